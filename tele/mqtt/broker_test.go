package telemqtt

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/carrotview/log2"
)

const testNetworkTimeout = 3 * time.Second

// testBroker is enough of MQTT broker for mirror tests:
// accepts any client, fans out publish to exact or "#" subscribers at QoS 0.
type testBroker struct {
	addr string
	log  *log2.Log
	ns   *transport.NetServer
	wg   sync.WaitGroup

	mu    sync.Mutex
	conns map[transport.Conn][]string // subscribed topic filters
}

func newTestBroker(t testing.TB, log *log2.Log) *testBroker {
	listen, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	b := &testBroker{
		addr:  listen.Addr().String(),
		log:   log,
		ns:    transport.NewNetServer(listen),
		conns: make(map[transport.Conn][]string),
	}
	b.wg.Add(1)
	go b.acceptLoop()
	t.Cleanup(b.close)
	return b
}

func (b *testBroker) URL() string { return "tcp://" + b.addr }

func (b *testBroker) acceptLoop() {
	defer b.wg.Done()
	for {
		conn, err := b.ns.Accept()
		if err != nil {
			return
		}
		b.wg.Add(1)
		go b.processConn(conn)
	}
}

func (b *testBroker) processConn(conn transport.Conn) {
	defer b.wg.Done()
	defer b.drop(conn)

	pkt, err := conn.Receive()
	if err != nil {
		return
	}
	pktConnect, ok := pkt.(*packet.Connect)
	if !ok {
		b.log.Errorf("broker expected connect pkt=%s", pkt.String())
		return
	}
	connack := packet.NewConnack()
	connack.ReturnCode = packet.ConnectionAccepted
	if err = conn.Send(connack, false); err != nil {
		return
	}
	b.log.Debugf("broker connected id=%s", pktConnect.ClientID)
	b.mu.Lock()
	b.conns[conn] = nil
	b.mu.Unlock()

	for {
		if pkt, err = conn.Receive(); err != nil {
			return
		}
		switch p := pkt.(type) {
		case *packet.Subscribe:
			suback := packet.NewSuback()
			suback.ID = p.ID
			b.mu.Lock()
			for _, sub := range p.Subscriptions {
				b.conns[conn] = append(b.conns[conn], sub.Topic)
				suback.ReturnCodes = append(suback.ReturnCodes, sub.QOS)
			}
			b.mu.Unlock()
			err = conn.Send(suback, false)

		case *packet.Publish:
			if p.Message.QOS == packet.QOSAtLeastOnce {
				puback := packet.NewPuback()
				puback.ID = p.ID
				err = conn.Send(puback, false)
			}
			b.forward(p.Message)

		case *packet.Pingreq:
			err = conn.Send(packet.NewPingresp(), false)

		case *packet.Disconnect:
			return
		}
		if err != nil {
			return
		}
	}
}

func (b *testBroker) forward(msg packet.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn, filters := range b.conns {
		for _, f := range filters {
			if f == "#" || f == msg.Topic {
				pub := packet.NewPublish()
				pub.Message = packet.Message{Topic: msg.Topic, Payload: msg.Payload, QOS: packet.QOSAtMostOnce}
				_ = conn.Send(pub, false)
				break
			}
		}
	}
}

func (b *testBroker) drop(conn transport.Conn) {
	b.mu.Lock()
	delete(b.conns, conn)
	b.mu.Unlock()
	_ = conn.Close()
}

// kick closes every client connection, broker keeps listening.
func (b *testBroker) kick() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.conns)
	for conn := range b.conns {
		_ = conn.Close()
	}
	return n
}

func (b *testBroker) close() {
	_ = b.ns.Close()
	b.kick()
	b.wg.Wait()
}

// testSubscribe connects plain MQTT client subscribed to topic.
func testSubscribe(t testing.TB, b *testBroker, topic string) transport.Conn {
	conn, err := transport.Dial(b.URL())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	conn.SetReadTimeout(testNetworkTimeout)

	pktConnect := packet.NewConnect()
	pktConnect.CleanSession = true
	pktConnect.ClientID = "test-subscriber"
	require.NoError(t, conn.Send(pktConnect, false))
	pkt, err := conn.Receive()
	require.NoError(t, err)
	require.Equal(t, packet.ConnectionAccepted, pkt.(*packet.Connack).ReturnCode)

	pktSubscribe := packet.NewSubscribe()
	pktSubscribe.ID = 1
	pktSubscribe.Subscriptions = []packet.Subscription{{Topic: topic, QOS: packet.QOSAtMostOnce}}
	require.NoError(t, conn.Send(pktSubscribe, false))
	pkt, err = conn.Receive()
	require.NoError(t, err)
	assert.Equal(t, []packet.QOS{packet.QOSAtMostOnce}, pkt.(*packet.Suback).ReturnCodes)
	return conn
}

func testReceivePublish(t testing.TB, conn transport.Conn) packet.Message {
	pkt, err := conn.Receive()
	require.NoError(t, err)
	pub, ok := pkt.(*packet.Publish)
	require.True(t, ok, "pkt=%s", pkt.String())
	return pub.Message
}
