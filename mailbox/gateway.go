// Package mailbox provides access to the mailbox that vendors send their
// delivery notes to.
package mailbox

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Header is the envelope information available without downloading a
// message body.
type Header struct {
	ID        string
	Subject   string
	Sender    string
	Recipient string
}

//go:generate mockgen -source=gateway.go -destination=mocks/mocks.go -package=mocks Gateway

// Gateway is a connection to a mailbox holding unread messages.
type Gateway interface {
	Connect(ctx context.Context) error
	Disconnect() error
	ListUnread(ctx context.Context) ([]Header, error)
	FetchBody(ctx context.Context, id string) ([]byte, error)
	MarkRead(ctx context.Context, id string) error
}

// Message is a mailbox message whose body is loaded on first use.
type Message struct {
	Header
	raw []byte
}

// NewMessage returns a header-only message.
func NewMessage(h Header) *Message {
	return &Message{Header: h}
}

// HasFullContent reports whether the body has been loaded.
func (m *Message) HasFullContent() bool {
	return m.raw != nil
}

// Load fetches the body through gw unless it is already loaded.
func (m *Message) Load(ctx context.Context, gw Gateway) error {
	if m.HasFullContent() {
		return nil
	}
	raw, err := gw.FetchBody(ctx, m.ID)
	if err != nil {
		return errors.Wrapf(err, "fetch body of message %s", m.ID)
	}
	if raw == nil {
		raw = []byte{}
	}
	m.raw = raw
	return nil
}

// Attachments parses the loaded body.  Load must be called first.
func (m *Message) Attachments() ([]Attachment, error) {
	if !m.HasFullContent() {
		return nil, errors.Newf("message %s body not loaded", m.ID)
	}
	return ParseAttachments(m.raw)
}
