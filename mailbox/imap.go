package mailbox

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"go.uber.org/zap"
)

// IMAPConfig holds the settings of an IMAP mailbox.
type IMAPConfig struct {
	Host     string
	Port     int
	TLS      bool
	User     string
	Password string
	Auth     string // "login" or "plain"
	Mailbox  string
}

var _ Gateway = (*IMAPGateway)(nil)

// IMAPGateway is a Gateway over an IMAP server.  Message ids are UIDs in
// the selected mailbox.
type IMAPGateway struct {
	config IMAPConfig
	logger *zap.SugaredLogger
	client *imapclient.Client
}

// NewIMAPGateway returns an unconnected gateway.
func NewIMAPGateway(config IMAPConfig, logger *zap.SugaredLogger) *IMAPGateway {
	if config.Mailbox == "" {
		config.Mailbox = "INBOX"
	}
	return &IMAPGateway{config: config, logger: logger}
}

// Connect dials, authenticates and selects the mailbox.  It is a no-op on a
// connected gateway.
func (g *IMAPGateway) Connect(ctx context.Context) error {
	if g.client != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}

	addr := net.JoinHostPort(g.config.Host, strconv.Itoa(g.config.Port))
	opts := &imapclient.Options{WordDecoder: wordDecoder}

	var c *imapclient.Client
	var err error
	if g.config.TLS {
		c, err = imapclient.DialTLS(addr, opts)
	} else {
		c, err = imapclient.DialInsecure(addr, opts)
	}
	if err != nil {
		return errors.Wrapf(err, "dial %s", addr)
	}

	if strings.EqualFold(g.config.Auth, "plain") {
		err = c.Authenticate(sasl.NewPlainClient("", g.config.User, g.config.Password))
	} else {
		err = c.Login(g.config.User, g.config.Password).Wait()
	}
	if err != nil {
		return appendErr(errors.Wrapf(err, "authenticate %s", g.config.User), c.Close())
	}

	if _, err := c.Select(g.config.Mailbox, nil).Wait(); err != nil {
		return appendErr(errors.Wrapf(err, "select %s", g.config.Mailbox), c.Close())
	}

	g.logger.Infow("connected to mailbox",
		"addr", addr,
		"mailbox", g.config.Mailbox)
	g.client = c
	return nil
}

// Disconnect logs out and closes the connection.  It is safe to call on a
// gateway that never connected.
func (g *IMAPGateway) Disconnect() error {
	if g.client == nil {
		return nil
	}
	c := g.client
	g.client = nil
	err := c.Logout().Wait()
	return appendErr(errors.WithStack(err), errors.WithStack(c.Close()))
}

// ListUnread returns the headers of all messages without the \Seen flag,
// in UID order.
func (g *IMAPGateway) ListUnread(ctx context.Context) ([]Header, error) {
	if err := g.ready(ctx); err != nil {
		return nil, err
	}
	data, err := g.client.UIDSearch(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return nil, errors.Wrap(err, "search unseen")
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	msgs, err := g.client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:      true,
		Envelope: true,
	}).Collect()
	if err != nil {
		return nil, errors.Wrap(err, "fetch envelopes")
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].UID < msgs[j].UID })

	headers := make([]Header, 0, len(msgs))
	for _, m := range msgs {
		if m.Envelope == nil {
			g.logger.Warnw("message without envelope",
				"uid", m.UID)
			continue
		}
		headers = append(headers, Header{
			ID:        strconv.FormatUint(uint64(m.UID), 10),
			Subject:   m.Envelope.Subject,
			Sender:    formatAddresses(m.Envelope.From),
			Recipient: formatAddresses(m.Envelope.To),
		})
	}
	return headers, nil
}

// FetchBody returns the full RFC 5322 message without setting \Seen.
func (g *IMAPGateway) FetchBody(ctx context.Context, id string) ([]byte, error) {
	if err := g.ready(ctx); err != nil {
		return nil, err
	}
	uid, err := parseUID(id)
	if err != nil {
		return nil, err
	}
	section := &imap.FetchItemBodySection{Peek: true}
	msgs, err := g.client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, errors.Wrapf(err, "fetch uid %d", uid)
	}
	if len(msgs) == 0 {
		return nil, errors.Newf("message uid %d not found", uid)
	}
	body := msgs[0].FindBodySection(section)
	if body == nil {
		return nil, errors.Newf("message uid %d returned no body", uid)
	}
	return body, nil
}

// MarkRead sets \Seen on the message.
func (g *IMAPGateway) MarkRead(ctx context.Context, id string) error {
	if err := g.ready(ctx); err != nil {
		return err
	}
	uid, err := parseUID(id)
	if err != nil {
		return err
	}
	err = g.client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil).Close()
	return errors.Wrapf(err, "mark uid %d seen", uid)
}

func (g *IMAPGateway) ready(ctx context.Context) error {
	if g.client == nil {
		return errors.New("mailbox not connected")
	}
	return errors.WithStack(ctx.Err())
}

func parseUID(id string) (imap.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "bad message id %q", id)
	}
	return imap.UID(n), nil
}

func formatAddresses(addrs []imap.Address) string {
	ss := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Name != "" {
			ss = append(ss, a.Name+" <"+a.Addr()+">")
		} else {
			ss = append(ss, a.Addr())
		}
	}
	return strings.Join(ss, ", ")
}

func appendErr(err1, err2 error) error {
	if err2 == nil {
		return err1
	}
	if err1 == nil {
		return err2
	}
	return errors.Join(err1, err2)
}
