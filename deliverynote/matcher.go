package deliverynote

import (
	"regexp"
	"strings"

	"github.com/sony/micro-delivery-ingest/mailbox"
)

// Matcher selects the rule that applies to a message.
type Matcher struct {
	rules []*Rule
}

// NewMatcher returns a Matcher over rules in declaration order.
func NewMatcher(rules []*Rule) *Matcher {
	return &Matcher{rules: rules}
}

// Rules returns the rules in declaration order.
func (m *Matcher) Rules() []*Rule {
	return m.rules
}

// Rule looks a rule up by name.
func (m *Matcher) Rule(name string) *Rule {
	for _, r := range m.rules {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// Match returns the first rule, in declaration order, whose subject, sender
// and receiver groups all hold for h, or nil.  Within a group any one entry
// suffices; a group with no entries always holds.
func (m *Matcher) Match(h mailbox.Header) *Rule {
	for _, r := range m.rules {
		if r.matches(h) {
			return r
		}
	}
	return nil
}

func (r *Rule) matches(h mailbox.Header) bool {
	if len(r.SubjectContains) > 0 && !anySearch(r.subjectRes, h.Subject) {
		return false
	}
	if len(r.SenderContains) > 0 && !anyContains(r.SenderContains, h.Sender) {
		return false
	}
	if len(r.ReceiverContains) > 0 && !anyContains(r.ReceiverContains, h.Recipient) {
		return false
	}
	return true
}

// MatchAttachmentName reports whether any of the rule's attachment
// patterns finds a case-insensitive match in filename.
func (m *Matcher) MatchAttachmentName(r *Rule, filename string) bool {
	return anySearch(r.attachmentRes, filename)
}

func anySearch(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func anyContains(keywords []string, s string) bool {
	s = strings.ToLower(s)
	for _, k := range keywords {
		if strings.Contains(s, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
