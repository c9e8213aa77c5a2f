package testutil

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"

	"github.com/nhle/mail-automation/internal/oauth"
)

// RecordedCall is one request seen by a FakeRequester. Body holds the
// JSON encoding of a structured body, or the raw body as sent.
type RecordedCall struct {
	Method      string
	Path        string
	Query       url.Values
	Body        []byte
	ContentType string
}

// FakeRequester stands in for an authenticated OAuth client in façade
// tests. Replies are keyed by "METHOD /path".
type FakeRequester struct {
	mu      sync.Mutex
	calls   []RecordedCall
	replies map[string]string
	err     error
}

// NewFakeRequester returns a requester that answers every call with an
// empty body.
func NewFakeRequester() *FakeRequester {
	return &FakeRequester{replies: make(map[string]string)}
}

// Reply sets the JSON body returned for method and path.
func (f *FakeRequester) Reply(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[strings.ToUpper(method)+" "+path] = body
}

// Fail makes every subsequent call return err.
func (f *FakeRequester) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls returns every recorded call in order.
func (f *FakeRequester) Calls() []RecordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedCall(nil), f.calls...)
}

// Last returns the most recent call. It panics when none was made.
func (f *FakeRequester) Last() RecordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *FakeRequester) Request(
	ctx context.Context,
	method, path string,
	body any,
	query url.Values,
	out any,
) error {
	return f.Do(ctx, oauth.Call{Method: method, Path: path, Query: query, Body: body}, out)
}

func (f *FakeRequester) Do(_ context.Context, call oauth.Call, out any) error {
	rec := RecordedCall{
		Method:      strings.ToUpper(call.Method),
		Path:        call.Path,
		Query:       call.Query,
		ContentType: call.ContentType,
	}
	switch {
	case call.RawBody != nil:
		rec.Body = call.RawBody
	case call.Body != nil:
		data, err := json.Marshal(call.Body)
		if err != nil {
			return err
		}
		rec.Body = data
		rec.ContentType = "application/json"
	}

	f.mu.Lock()
	f.calls = append(f.calls, rec)
	reply := f.replies[rec.Method+" "+rec.Path]
	err := f.err
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if reply == "" || out == nil {
		return nil
	}
	return json.Unmarshal([]byte(reply), out)
}
