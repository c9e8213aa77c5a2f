package zoom

// User is the response from GET /users/me.
type User struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Timezone    string `json:"timezone,omitempty"`
	PMI         int64  `json:"pmi,omitempty"`
}

// Name returns the display name, falling back to first and last name.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.LastName
	}
}

// Meeting types accepted by the Zoom API.
const (
	MeetingTypeInstant   = 1
	MeetingTypeScheduled = 2
	MeetingTypeRecurring = 3
)

// Meeting is a Zoom meeting. Settings stays a free-form map because the
// API accepts many more keys than the app sets.
type Meeting struct {
	ID        int64          `json:"id,omitempty"`
	UUID      string         `json:"uuid,omitempty"`
	HostID    string         `json:"host_id,omitempty"`
	Topic     string         `json:"topic,omitempty"`
	Type      int            `json:"type,omitempty"`
	Status    string         `json:"status,omitempty"`
	StartTime string         `json:"start_time,omitempty"`
	Duration  int            `json:"duration,omitempty"`
	Timezone  string         `json:"timezone,omitempty"`
	Agenda    string         `json:"agenda,omitempty"`
	Password  string         `json:"password,omitempty"`
	JoinURL   string         `json:"join_url,omitempty"`
	StartURL  string         `json:"start_url,omitempty"`
	Settings  map[string]any `json:"settings,omitempty"`
}

// meetingList is the response from GET /users/me/meetings.
type meetingList struct {
	PageSize     int       `json:"page_size"`
	TotalRecords int       `json:"total_records"`
	Meetings     []Meeting `json:"meetings"`
}
