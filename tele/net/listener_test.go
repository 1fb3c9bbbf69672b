package telenet

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/carrotview/log2"
	"github.com/temoto/carrotview/tele"
)

// Close between alive.Add and startBackground leaves no stopWatch,
// accept loop must release listener by itself.
func TestAcceptLoopClosesListener(t *testing.T) {
	t.Parallel()
	s := NewServer(ServerOptions{
		Log:        log2.NewTest(t, log2.LDebug),
		Source:     func() tele.Snapshot { return tele.Snapshot{} },
		AcceptPoll: 20 * time.Millisecond,
	})
	ll, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.True(t, s.alive.Add(1))
	s.alive.Stop()

	done := make(chan struct{})
	go func() {
		s.acceptLoop(ll, ListenOptions{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("acceptLoop did not return after Stop")
	}
	s.alive.Wait()

	_, err = ll.Accept()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use of closed network connection")
	assert.NoError(t, s.Err())
}

func TestWebsocketListenerServeError(t *testing.T) {
	t.Parallel()
	tcpll, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	l := listenWebsocket(tcpll, "/", log2.NewTest(t, log2.LDebug))
	defer l.Close()
	require.NoError(t, tcpll.Close())

	errch := make(chan error, 1)
	go func() {
		_, err := l.Accept()
		errch <- err
	}()
	select {
	case err = <-errch:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "websocket serve")
	case <-time.After(2 * time.Second):
		t.Fatal("Accept blocked after Serve error")
	}
}
