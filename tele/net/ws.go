package telenet

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/temoto/carrotview/helpers"
	"github.com/temoto/carrotview/log2"
)

// websocketConn presents binary WebSocket messages as a byte stream.
// One Write is one message, so every frame travels in its own message.
type websocketConn struct {
	ws  *websocket.Conn
	r   io.Reader
	wmu sync.Mutex
}

var _ net.Conn = &websocketConn{}

func newWebsocketConn(ws *websocket.Conn) *websocketConn {
	return &websocketConn{ws: ws}
}

func (c *websocketConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			mt, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			c.r = r
		}
		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *websocketConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *websocketConn) Close() error                       { return c.ws.Close() }
func (c *websocketConn) LocalAddr() net.Addr                { return c.ws.LocalAddr() }
func (c *websocketConn) RemoteAddr() net.Addr               { return c.ws.RemoteAddr() }
func (c *websocketConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *websocketConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
func (c *websocketConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

// websocketListener upgrades HTTP requests on path and hands them to Accept.
type websocketListener struct {
	ll       net.Listener
	srv      *http.Server
	upgrader websocket.Upgrader
	ch       chan net.Conn
	done     chan struct{}
	fail     helpers.AtomicError
	failed   chan struct{} // closed after Serve error, Accept returns fail
	once     sync.Once
	log      *log2.Log
}

var _ net.Listener = &websocketListener{}

func listenWebsocket(ll net.Listener, path string, log *log2.Log) *websocketListener {
	l := &websocketListener{
		ll: ll,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 << 10,
			WriteBufferSize: 16 << 10,
			// dashboard apps are not browsers, Origin is meaningless
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ch:     make(chan net.Conn),
		done:   make(chan struct{}),
		failed: make(chan struct{}),
		log:    log,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, l.serveHTTP)
	l.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := l.srv.Serve(ll); err != nil && err != http.ErrServerClosed {
			l.log.Debugf("websocket serve addr=%s err=%v", addrString(ll.Addr()), err)
			_, _ = l.fail.StoreOnce(errors.Annotate(err, "websocket serve"))
			close(l.failed)
		}
	}()
	return l
}

func (l *websocketListener) serveHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with HTTP error
		l.log.Debugf("websocket upgrade remote=%s err=%v", r.RemoteAddr, err)
		return
	}
	select {
	case l.ch <- newWebsocketConn(ws):
	case <-l.done:
		_ = ws.Close()
	}
}

func (l *websocketListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.ch:
		return c, nil
	case <-l.done:
		return nil, errors.Annotate(net.ErrClosed, "websocket accept")
	case <-l.failed:
		err, _ := l.fail.Load()
		return nil, err
	}
}

func (l *websocketListener) Close() error {
	err := net.ErrClosed
	l.once.Do(func() {
		close(l.done)
		err = l.srv.Close()
	})
	return err
}

func (l *websocketListener) Addr() net.Addr { return l.ll.Addr() }
