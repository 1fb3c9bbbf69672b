package telenet

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/carrotview/log2"
	"github.com/temoto/carrotview/tele"
)

// Dashboard side of the protocol.
// Used by `carrotview watch` and in testing the server.
type Client struct {
	challenge string
	conn      Conn
	info      tele.AuthSuccess
	opt       ClientOptions
}

type ClientOptions struct {
	Log            *log2.Log
	NetworkTimeout time.Duration
	ReadLimit      uint32
	TokenPrefix    string
	// Token overrides DeterministicToken, e.g. to test rejection.
	Token func(challenge string) string
}

// Dial connects and completes handshake.
// Wrong token is reported as tele.ErrNotAuthorized.
func Dial(ctx context.Context, url string, opt ClientOptions) (*Client, error) {
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.ReadLimit == 0 {
		opt.ReadLimit = MaxFrameLen
	}
	if opt.TokenPrefix == "" {
		opt.TokenPrefix = DefaultTokenPrefix
	}
	if opt.Token == nil {
		prefix := opt.TokenPrefix
		opt.Token = func(challenge string) string { return DeterministicToken(prefix, challenge) }
	}

	conn, err := DialContext(ctx, net.Dialer{}, url, ConnOptions{
		Log:            opt.Log,
		NetworkTimeout: opt.NetworkTimeout,
		ReadLimit:      opt.ReadLimit,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	c := &Client{conn: conn, opt: opt}
	if err = c.handshake(ctx); err != nil {
		_ = conn.die(err)
		return nil, errors.Annotatef(err, "handshake url=%s", url)
	}
	return c, nil
}

func (c *Client) handshake(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opt.NetworkTimeout)
	defer cancel()

	var req tele.AuthRequired
	if err := c.receiveJSON(ctx, tele.MessageAuthRequired, &req); err != nil {
		return errors.Trace(err)
	}
	c.challenge = req.Challenge
	c.opt.Log.Debugf("challenge=%s server_time=%d", req.Challenge, req.Timestamp)
	c.conn.setState(StateChallengeSent)

	resp := tele.AuthResponse{Token: c.opt.Token(req.Challenge)}
	if err := c.conn.SendJSON(ctx, &resp); err != nil {
		return errors.Trace(err)
	}
	if err := c.receiveJSON(ctx, tele.MessageAuthSuccess, &c.info); err != nil {
		// server closes silently on token mismatch
		if !isTimeout(err) && errors.Cause(err) != tele.ErrUnexpectedMessage {
			return errors.Annotate(tele.ErrNotAuthorized, err.Error())
		}
		return errors.Trace(err)
	}
	c.conn.setState(StateAuthenticated)
	return nil
}

func (c *Client) receiveJSON(ctx context.Context, expectType string, v interface{}) error {
	f, err := c.conn.Receive(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if f.Compressed() {
		return errors.Annotatef(tele.ErrUnexpectedMessage, "compressed frame expected=%s", expectType)
	}
	typ, err := tele.MessageType(f.Payload)
	if err != nil {
		return errors.Trace(err)
	}
	if typ != expectType {
		return errors.Annotatef(tele.ErrUnexpectedMessage, "type=%s expected=%s", typ, expectType)
	}
	return errors.Annotate(json.Unmarshal(f.Payload, v), expectType)
}

func (c *Client) Challenge() string                               { return c.challenge }
func (c *Client) Close() error                                    { return c.conn.Close() }
func (c *Client) Conn() Conn                                      { return c.conn }
func (c *Client) Info() tele.AuthSuccess                          { return c.info }
func (c *Client) String() string                                  { return c.conn.String() }
func (c *Client) Stat() *ConnStat                                 { return c.conn.Stat() }
func (c *Client) ReceiveFrame(ctx context.Context) (Frame, error) { return c.conn.Receive(ctx) }

// Receive blocks until next snapshot. Compressed frames are not supported.
func (c *Client) Receive(ctx context.Context) (tele.Snapshot, error) {
	f, err := c.conn.Receive(ctx)
	if err != nil {
		return tele.Snapshot{}, errors.Trace(err)
	}
	if f.Compressed() {
		return tele.Snapshot{}, errors.NotSupportedf("snapshot frame=%s", f)
	}
	return tele.UnmarshalSnapshot(f.Payload)
}
