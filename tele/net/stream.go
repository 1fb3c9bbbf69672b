package telenet

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/carrotview/helpers"
)

type streamConn struct {
	// 64-bit atomics first for 32-bit platforms
	sent  atomic_clock.Clock
	born  time.Time
	wmu   sync.Mutex
	err   helpers.AtomicError
	dec   Decoder
	id    string
	net   net.Conn
	opt   ConnOptions
	stat  ConnStat
	state uint32
	w     io.Writer
}

var _ Conn = &streamConn{}

// NewStreamConn takes ownership of netConn.
func NewStreamConn(netConn net.Conn, opt ConnOptions) *streamConn {
	c := &streamConn{
		born: time.Now(),
		id:   uuid.New().String(),
		net:  netConn,
		opt:  opt,
	}
	if tcp, ok := c.net.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetLinger(0)
		_ = tcp.SetWriteBuffer(64 << 10)
		if opt.TCPUserTimeout > 0 {
			if err := setTCPUserTimeout(tcp, opt.TCPUserTimeout); err != nil {
				opt.Log.Debugf("TCP_USER_TIMEOUT remote=%s err=%v", addrString(tcp.RemoteAddr()), err)
			}
		}
	}
	const tcpOverhead = 40
	statread := helpers.NewStatReader(c.net, &c.stat.Recv.Size, tcpOverhead)
	c.w = helpers.NewStatWriter(c.net, &c.stat.Send.Size, tcpOverhead)
	c.dec.Attach(bufio.NewReader(statread), opt.ReadLimit)
	return c
}

// Close returns nil unless connection already died with another error.
func (c *streamConn) Close() error {
	if err := c.die(ErrClosing); err != ErrClosing {
		return err
	}
	return nil
}

func (c *streamConn) Closed() bool {
	_, ok := c.err.Load()
	return ok
}

// Receive blocks until one frame. Deadline and cancel of ctx interrupt the read.
// Any error kills connection.
func (c *streamConn) Receive(ctx context.Context) (Frame, error) {
	deadline, _ := ctx.Deadline()
	if err := c.net.SetReadDeadline(deadline); err != nil {
		err = errors.Annotate(err, "SetReadDeadline")
		_ = c.die(err)
		return Frame{}, err
	}
	if done := ctx.Done(); done != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-done:
				_ = c.net.SetReadDeadline(aLongTimeAgo)
			case <-stop:
			}
		}()
	}

	f, err := c.dec.Read()
	if err != nil {
		if ctx.Err() == context.Canceled {
			err = errors.Annotate(ErrClosing, err.Error())
		}
		err = errors.Annotate(err, "receive")
		_ = c.die(err)
		return Frame{}, err
	}
	c.stat.Recv.Count.Add(1)
	return f, nil
}

func (c *streamConn) Send(ctx context.Context, b []byte) error {
	if err, closed := c.err.Load(); closed {
		return errors.Annotate(err, "send on closed")
	}
	deadline, _ := ctx.Deadline()

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.net.SetWriteDeadline(deadline); err != nil {
		err = errors.Annotate(err, "SetWriteDeadline")
		_ = c.die(err)
		return err
	}
	if err := helpers.WriteAll(c.w, b); err != nil {
		err = errors.Annotate(err, "send")
		_ = c.die(err)
		return err
	}
	c.sent.SetNow()
	c.stat.Send.Count.Add(1)
	return nil
}

// SendJSON marshals v into raw frame.
func (c *streamConn) SendJSON(ctx context.Context, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Annotate(err, "json")
	}
	b, err := FrameEncode(FrameFlagRaw, payload)
	if err != nil {
		return errors.Trace(err)
	}
	return c.Send(ctx, b)
}

func (c *streamConn) ConnectedAt() time.Time { return c.born }
func (c *streamConn) ID() string             { return c.id }
func (c *streamConn) Options() *ConnOptions  { return &c.opt }
func (c *streamConn) RemoteAddr() net.Addr   { return c.net.RemoteAddr() }
func (c *streamConn) Stat() *ConnStat        { return &c.stat }
func (c *streamConn) State() AuthState       { return AuthState(atomic.LoadUint32(&c.state)) }

func (c *streamConn) SinceLastSend() time.Duration {
	if c.sent.IsZero() {
		return time.Since(c.born)
	}
	return atomic_clock.Since(&c.sent)
}

func (c *streamConn) setState(s AuthState) { atomic.StoreUint32(&c.state, uint32(s)) }

func (c *streamConn) String() string {
	return fmt.Sprintf("(id=%s remote=%s state=%s)", c.id, addrString(c.RemoteAddr()), c.State())
}

// die closes connection exactly once, later calls return first error.
func (c *streamConn) die(e error) error {
	if err, found := c.err.StoreOnce(e); found {
		return err
	}
	c.setState(StateRejected)
	_ = c.net.Close()

	c.opt.Log.Debugf("die +close id=%s local=%s remote=%s e=%s",
		c.id, addrString(c.net.LocalAddr()), addrString(c.RemoteAddr()), shortError(e))
	return e
}

// reformat some well known errors for easier log reading
func shortError(e error) string {
	estr := e.Error()
	switch {
	case isTimeout(e), strings.HasSuffix(estr, "i/o timeout"):
		return "timeout"
	case strings.HasSuffix(estr, "connection reset by peer"):
		return "closed by remote"
	case strings.HasSuffix(estr, "EOF"):
		return "eof"
	}
	return estr
}
