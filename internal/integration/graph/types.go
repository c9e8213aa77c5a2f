package graph

// User is the response from GET /me.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	JobTitle          string `json:"jobTitle,omitempty"`
}

// Message is a mailbox message. Only the fields the app reads or writes
// are mapped.
type Message struct {
	ID               string      `json:"id,omitempty"`
	Subject          string      `json:"subject,omitempty"`
	Body             *ItemBody   `json:"body,omitempty"`
	BodyPreview      string      `json:"bodyPreview,omitempty"`
	From             *Recipient  `json:"from,omitempty"`
	ToRecipients     []Recipient `json:"toRecipients,omitempty"`
	CcRecipients     []Recipient `json:"ccRecipients,omitempty"`
	ReceivedDateTime string      `json:"receivedDateTime,omitempty"`
	IsRead           *bool       `json:"isRead,omitempty"`
	IsDraft          bool        `json:"isDraft,omitempty"`
}

// ItemBody is message or event content.
type ItemBody struct {
	ContentType string `json:"contentType"` // "text" or "html"
	Content     string `json:"content"`
}

// Recipient wraps an email address as Graph expects it.
type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// EmailAddress is a named mailbox address.
type EmailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// NewRecipients converts plain addresses to Graph recipients.
func NewRecipients(addresses ...string) []Recipient {
	out := make([]Recipient, 0, len(addresses))
	for _, addr := range addresses {
		out = append(out, Recipient{EmailAddress: EmailAddress{Address: addr}})
	}
	return out
}

// MailFolder is a mailbox folder from GET /me/mailFolders.
type MailFolder struct {
	ID               string `json:"id"`
	DisplayName      string `json:"displayName"`
	ParentFolderID   string `json:"parentFolderId,omitempty"`
	ChildFolderCount int    `json:"childFolderCount"`
	UnreadItemCount  int    `json:"unreadItemCount"`
	TotalItemCount   int    `json:"totalItemCount"`
}

// Event is a calendar event for POST /me/events.
type Event struct {
	ID        string       `json:"id,omitempty"`
	Subject   string       `json:"subject"`
	Body      *ItemBody    `json:"body,omitempty"`
	Start     DateTimeZone `json:"start"`
	End       DateTimeZone `json:"end"`
	Location  *Location    `json:"location,omitempty"`
	Attendees []Attendee   `json:"attendees,omitempty"`
	WebLink   string       `json:"webLink,omitempty"`
}

// DateTimeZone is a wall-clock time paired with an IANA or Windows zone.
type DateTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

// Location names where an event takes place.
type Location struct {
	DisplayName string `json:"displayName"`
}

// Attendee is an invited participant.
type Attendee struct {
	EmailAddress EmailAddress `json:"emailAddress"`
	Type         string       `json:"type"` // "required", "optional", "resource"
}

// listResponse is the envelope Graph uses for collections.
type listResponse[T any] struct {
	Value []T `json:"value"`
}

// mailboxSettings is the subset of GET /me/mailboxSettings the app reads.
type mailboxSettings struct {
	AutomaticRepliesSetting *struct {
		InternalReplyMessage string `json:"internalReplyMessage"`
	} `json:"automaticRepliesSetting"`
}
