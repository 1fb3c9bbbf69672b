// Package telemqtt mirrors broadcast snapshots to MQTT topic.
// Best-effort: payloads are dropped while broker is unreachable.
package telemqtt

import (
	"expvar"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/carrotview/helpers"
	"github.com/temoto/carrotview/log2"
)

const (
	DefaultClientID       = "carrotview"
	DefaultTopic          = "carrotview/snapshot"
	DefaultConnectTimeout = 5 * time.Second
	DefaultKeepAlive      = 30 * time.Second
)

type Options struct {
	Broker         string // tcp://host:1883
	ClientID       string
	Topic          string
	QoS            byte
	Retain         bool
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	Log            *log2.Log
}

// subset of mqtt.Client used here
type client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Mirror struct {
	alive   *alive.Alive
	backoff helpers.Backoff
	c       client
	log     *log2.Log
	opt     Options
	stat    Stat
}

type Stat struct {
	Published expvar.Int
	Dropped   expvar.Int
	Connects  expvar.Int
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"published":%d,"dropped":%d,"connects":%d}`,
		s.Published.Value(), s.Dropped.Value(), s.Connects.Value())
}

func (opt *Options) defaults() error {
	if opt.Broker == "" {
		return errors.NotValidf("mqtt broker empty")
	}
	if opt.ClientID == "" {
		opt.ClientID = DefaultClientID
	}
	if opt.Topic == "" {
		opt.Topic = DefaultTopic
	}
	if opt.QoS > 2 {
		return errors.NotValidf("mqtt qos=%d", opt.QoS)
	}
	if opt.ConnectTimeout == 0 {
		opt.ConnectTimeout = DefaultConnectTimeout
	}
	if opt.KeepAlive == 0 {
		opt.KeepAlive = DefaultKeepAlive
	}
	return nil
}

// NewMirror returns immediately, connection is established in background
// with retries until Close.
func NewMirror(opt Options) (*Mirror, error) {
	if err := opt.defaults(); err != nil {
		return nil, errors.Trace(err)
	}
	mqtt.ERROR = opt.Log
	mqtt.CRITICAL = opt.Log
	mqtt.WARN = opt.Log

	m := newMirror(opt, nil)
	mopt := mqtt.NewClientOptions().
		AddBroker(opt.Broker).
		SetClientID(opt.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(opt.ConnectTimeout).
		SetKeepAlive(opt.KeepAlive).
		SetOnConnectHandler(func(mqtt.Client) { m.onConnect() }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			m.log.Errorf("mqtt connection lost broker=%s err=%v", opt.Broker, err)
		})
	m.c = mqtt.NewClient(mopt)
	m.start()
	return m, nil
}

func newMirror(opt Options, c client) *Mirror {
	return &Mirror{
		alive: alive.NewAlive(),
		backoff: helpers.Backoff{
			Min: time.Second,
			Max: time.Minute,
			K:   2,
		},
		c:   c,
		log: opt.Log,
		opt: opt,
	}
}

func (m *Mirror) start() {
	if m.alive.Add(1) {
		go m.connectLoop()
	}
}

// Paho reconnects by itself only after first successful connect.
func (m *Mirror) connectLoop() {
	defer m.alive.Done()
	stopch := m.alive.StopChan()
	for {
		tok := m.c.Connect()
		if tok.WaitTimeout(m.opt.ConnectTimeout) && tok.Error() == nil {
			return
		}
		err := tok.Error()
		if err == nil {
			err = errors.Timeoutf("mqtt connect")
		}
		delay := m.backoff.DelayAfter(false)
		m.log.Errorf("mqtt connect broker=%s err=%v retry in %v", m.opt.Broker, err, delay)
		select {
		case <-time.After(delay):
		case <-stopch:
			return
		}
	}
}

func (m *Mirror) onConnect() {
	m.stat.Connects.Add(1)
	m.backoff.Reset()
	m.log.Infof("mqtt connected broker=%s topic=%s", m.opt.Broker, m.opt.Topic)
}

// Publish implements telenet.Sink. Does not wait for delivery.
func (m *Mirror) Publish(payload []byte) error {
	if !m.alive.IsRunning() || !m.c.IsConnected() {
		m.stat.Dropped.Add(1)
		return nil
	}
	tok := m.c.Publish(m.opt.Topic, m.opt.QoS, m.opt.Retain, payload)
	// QoS 0 token is complete right away, others report error later and are not awaited.
	if m.opt.QoS == 0 && tok.WaitTimeout(0) {
		if err := tok.Error(); err != nil {
			m.stat.Dropped.Add(1)
			return errors.Annotatef(err, "mqtt publish topic=%s", m.opt.Topic)
		}
	}
	m.stat.Published.Add(1)
	return nil
}

func (m *Mirror) Stat() *Stat { return &m.stat }

func (m *Mirror) Close() error {
	m.alive.Stop()
	m.alive.Wait()
	m.c.Disconnect(250)
	return nil
}
