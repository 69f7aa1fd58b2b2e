package mailbox

import (
	"bytes"
	"io"
	"mime"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// Attachment is a named file part of a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ParseAttachments walks all MIME parts of raw and returns those that carry
// a filename, in message order.  Inline parts with a filename count too;
// vendors' mailers are not consistent about the disposition.
func ParseAttachments(raw []byte) ([]Attachment, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, errors.Wrap(err, "parse message")
	}
	defer mr.Close()

	var atts []Attachment
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				continue
			}
			return atts, errors.Wrap(err, "read message part")
		}

		var filename, ctype string
		switch h := p.Header.(type) {
		case *mail.AttachmentHeader:
			filename, err = h.Filename()
			ctype, _, _ = h.ContentType()
		case *mail.InlineHeader:
			ctype, _, _ = h.ContentType()
			_, params, perr := h.ContentDisposition()
			if perr == nil {
				filename = params["filename"]
			}
			if filename == "" {
				_, cparams, _ := h.ContentType()
				filename = cparams["name"]
			}
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return atts, errors.Wrap(err, "decode attachment filename")
		}
		// some mailers quote encoded-words, which leaves them undecoded
		if decoded, derr := wordDecoder.DecodeHeader(filename); derr == nil {
			filename = decoded
		}
		filename = strings.TrimSpace(filename)
		if filename == "" {
			continue
		}

		data, err := io.ReadAll(p.Body)
		if err != nil {
			return atts, errors.Wrapf(err, "read attachment %s", filename)
		}
		atts = append(atts, Attachment{
			Filename:    filename,
			ContentType: ctype,
			Data:        data,
		})
	}
	return atts, nil
}
