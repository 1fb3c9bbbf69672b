package telenet

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/carrotview/helpers"
	"github.com/temoto/carrotview/log2"
	"github.com/temoto/carrotview/tele"
)

const (
	DefaultPeriod           = 100 * time.Millisecond
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultWriteTimeout     = 250 * time.Millisecond
	DefaultAcceptPoll       = time.Second
)

// Telemetry server: accepts dashboard clients, authenticates them
// and broadcasts one snapshot per period to every authenticated client.
type Server struct {
	alive   *alive.Alive
	ctx     context.Context
	cancel  context.CancelFunc
	fatal   helpers.AtomicError
	listens struct {
		sync.RWMutex
		m map[string]net.Listener
	}
	log      *log2.Log
	opt      ServerOptions
	registry *Registry
	start    sync.Once
	stat     ServerStat
}

type ServerOptions struct {
	Log *log2.Log
	// Source is required, called once per tick.
	Source tele.SnapshotFunc
	// Sinks get JSON payload after every tick, errors are only counted.
	Sinks []Sink

	TokenPrefix          string
	ServerVersion        string
	CompressionSupported bool

	Period           time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	AcceptPoll       time.Duration

	OnAuth  func(Conn)
	OnClose RemoveFunc // registered connection lost
}

type ListenOptions struct {
	// tcp://host:port or ws://host:port/path
	URL            string
	ReadLimit      uint32
	TCPUserTimeout time.Duration
}

func NewServer(opt ServerOptions) *Server {
	if opt.TokenPrefix == "" {
		opt.TokenPrefix = DefaultTokenPrefix
	}
	if opt.ServerVersion == "" {
		opt.ServerVersion = DefaultServerVersion
	}
	if opt.Period <= 0 {
		opt.Period = DefaultPeriod
	}
	if opt.HandshakeTimeout <= 0 {
		opt.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opt.WriteTimeout <= 0 {
		opt.WriteTimeout = DefaultWriteTimeout
	}
	if opt.AcceptPoll <= 0 {
		opt.AcceptPoll = DefaultAcceptPoll
	}
	s := &Server{
		alive: alive.NewAlive(),
		log:   opt.Log,
		opt:   opt,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.listens.m = make(map[string]net.Listener)
	s.registry = NewRegistry(opt.Log, s.onRemove)
	return s
}

func (s *Server) Addrs() []string {
	s.listens.RLock()
	defer s.listens.RUnlock()
	addrs := make([]string, 0, len(s.listens.m))
	for _, l := range s.listens.m {
		addrs = append(addrs, l.Addr().String())
	}
	return addrs
}

// Addr returns bound address for listen URL, useful with port 0.
func (s *Server) Addr(url string) (string, bool) {
	s.listens.RLock()
	defer s.listens.RUnlock()
	if l, ok := s.listens.m[url]; ok {
		return l.Addr().String(), true
	}
	return "", false
}

func (s *Server) Registry() *Registry { return s.registry }
func (s *Server) Stat() *ServerStat   { return &s.stat }

// Done is closed after Close() or fatal listener error, when all tasks finished.
func (s *Server) Done() <-chan struct{} { return s.alive.WaitChan() }

// Err returns listener error which stopped the server, if any.
func (s *Server) Err() error {
	err, _ := s.fatal.Load()
	return err
}

// Listen binds every URL and starts accept loops.
// First successful call also starts broadcast loop.
// Bind errors are returned, other listeners keep working.
func (s *Server) Listen(ctx context.Context, opts []ListenOptions) error {
	if s.opt.Source == nil {
		return errors.Errorf("code error ServerOptions.Source is not set")
	}
	s.listens.Lock()
	defer s.listens.Unlock()

	if !s.alive.Add(len(opts)) {
		return errors.Errorf("Listen after Close")
	}
	errs := make([]error, 0)
	started := 0
	for _, opt := range opts {
		s.log.Debugf("listen url=%s", opt.URL)
		if opt.ReadLimit == 0 {
			opt.ReadLimit = DefaultReadLimit
		}
		if err := s.listen(ctx, opt); err != nil {
			s.alive.Done()
			err = errors.Annotatef(err, "listen %s", opt.URL)
			errs = append(errs, err)
			continue
		}
		started++
	}
	if started > 0 {
		s.start.Do(s.startBackground)
	}
	return helpers.FoldErrors(errs)
}

// Close stops accepting, stops broadcast, closes all connections and
// waits for every task. Safe for concurrent and repeated use.
func (s *Server) Close() error {
	s.alive.Stop()
	s.cancel()
	s.registry.CloseAll(ErrClosing)
	s.alive.Wait()
	return s.Err()
}

func (s *Server) ConnOptions(lo *ListenOptions) ConnOptions {
	return ConnOptions{
		Log:            s.log,
		NetworkTimeout: s.opt.HandshakeTimeout,
		ReadLimit:      lo.ReadLimit,
		TCPUserTimeout: lo.TCPUserTimeout,
	}
}

// caller holds s.listens lock
func (s *Server) listen(ctx context.Context, opt ListenOptions) error {
	if _, ok := s.listens.m[opt.URL]; ok {
		return errors.AlreadyExistsf("listener url=%s", opt.URL)
	}
	scheme, hostport, path, err := parseURI(opt.URL)
	if err != nil {
		return errors.Trace(err)
	}

	var lc net.ListenConfig
	var ll net.Listener
	switch scheme {
	case "tcp":
		if ll, err = lc.Listen(ctx, "tcp", hostport); err != nil {
			return errors.Annotatef(err, "net.Listen address=%s", hostport)
		}

	case "ws":
		tcpll, err := lc.Listen(ctx, "tcp", hostport)
		if err != nil {
			return errors.Annotatef(err, "net.Listen address=%s", hostport)
		}
		ll = listenWebsocket(tcpll, path, s.log)

	default:
		return errors.NotSupportedf("listen url=%s scheme", opt.URL)
	}

	s.listens.m[opt.URL] = ll
	go s.acceptLoop(ll, opt)
	return nil
}

func (s *Server) startBackground() {
	// alive.Add may fail only after Stop, then there is nothing to start
	if s.alive.Add(2) {
		go s.broadcastLoop()
		go s.stopWatch()
	}
}

// stopWatch performs shutdown after alive.Stop(), from Close() or fatal error.
func (s *Server) stopWatch() {
	defer s.alive.Done()
	<-s.alive.StopChan()
	s.cancel()
	helpers.WithLock(&s.listens, func() {
		for _, ll := range s.listens.m {
			_ = ll.Close()
		}
	})
	if n := s.registry.CloseAll(ErrClosing); n > 0 {
		s.log.Debugf("shutdown closed connections=%d", n)
	}
}

func (s *Server) acceptLoop(ll net.Listener, opt ListenOptions) {
	defer s.alive.Done() // one alive subtask for each listener
	// stopWatch may not run if Close raced with Listen
	defer func() { _ = ll.Close() }()
	addr := addrString(ll.Addr())
	type deadliner interface{ SetDeadline(time.Time) error }
	dl, canPoll := ll.(deadliner)
	for {
		if canPoll {
			_ = dl.SetDeadline(time.Now().Add(s.opt.AcceptPoll))
		}
		conn, err := ll.Accept()
		if !s.alive.IsRunning() {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			lerr := &ListenerError{Addr: addr, Err: err}
			_, _ = s.fatal.StoreOnce(lerr)
			s.log.Error(lerr)
			s.alive.Stop()
			return
		}

		if !s.alive.Add(1) { // and one alive subtask for each connection
			_ = conn.Close()
			return
		}
		go s.processConn(NewStreamConn(conn, s.ConnOptions(&opt)))
	}
}

func (s *Server) processConn(conn Conn) {
	defer s.alive.Done()
	s.stat.Accepted.Add(1)

	if err := s.handshake(conn); err != nil {
		switch errors.Cause(err) {
		case ErrHandshakeTimeout:
			s.stat.Timeouts.Add(1)
		case ErrClosing:
		default:
			s.stat.Rejected.Add(1)
		}
		s.log.Infof("handshake conn=%s err=%v", conn, err)
		_ = conn.die(err)
		return
	}
	if err := s.registry.Add(conn); err != nil {
		s.log.Debugf("register conn=%s err=%v", conn, err)
		_ = conn.die(err)
		return
	}
	s.stat.Authenticated.Add(1)
	s.stat.Conn.Add(1)
	s.log.Infof("client authenticated conn=%s clients=%d", conn, s.registry.Len())
	if s.opt.OnAuth != nil {
		s.opt.OnAuth(conn)
	}

	// Clients have nothing to say after handshake, reading only detects disconnect.
	for {
		f, err := conn.Receive(s.ctx)
		if err != nil {
			s.registry.Remove(conn, err)
			return
		}
		s.log.Debugf("ignore inbound conn=%s frame=%s", conn.ID(), f)
	}
}

// handshake runs Unauthenticated -> ChallengeSent -> Authenticated.
// Any error means Rejected, caller closes conn.
func (s *Server) handshake(conn Conn) (err error) {
	defer errors.DeferredAnnotatef(&err, "addr=%s", addrString(conn.RemoteAddr()))
	ctx, cancel := context.WithTimeout(s.ctx, s.opt.HandshakeTimeout)
	defer cancel()

	now := time.Now()
	challenge := NewChallenge(now)
	req := tele.AuthRequired{
		Type:      tele.MessageAuthRequired,
		Timestamp: now.Unix(),
		Challenge: challenge,
	}
	if err = conn.SendJSON(ctx, &req); err != nil {
		return errors.Trace(err)
	}
	conn.setState(StateChallengeSent)

	f, err := conn.Receive(ctx)
	if err != nil {
		switch {
		case s.ctx.Err() != nil:
			return errors.Annotate(ErrClosing, err.Error())
		case isTimeout(err):
			return errors.Annotatef(ErrHandshakeTimeout, "after=%v", s.opt.HandshakeTimeout)
		}
		return errors.Annotate(ErrHandshakeRejected, err.Error())
	}
	token, err := parseToken(f)
	if err != nil {
		return errors.Annotate(ErrHandshakeRejected, err.Error())
	}
	if !verifyToken(s.opt.TokenPrefix, challenge, token) {
		return errors.Annotate(ErrHandshakeRejected, fmt.Sprintf("token mismatch token=%q", token))
	}

	conn.setState(StateAuthenticated)
	s.log.Debugf("auth conn=%s challenge=%s", conn, challenge)
	resp := tele.AuthSuccess{
		Type:                 tele.MessageAuthSuccess,
		ServerVersion:        s.opt.ServerVersion,
		CompressionSupported: s.opt.CompressionSupported,
	}
	if err = conn.SendJSON(ctx, &resp); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (s *Server) onRemove(c Conn, reason error) {
	s.stat.Conn.Add(-1)
	s.log.Infof("client gone conn=%s reason=%s", c, shortError(reason))
	if s.opt.OnClose != nil {
		s.opt.OnClose(c, reason)
	}
}
