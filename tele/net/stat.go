package telenet

// Values are read and modified atomically, but not consistently,
// i.e. it is possible to read .Count=1 .Size=0 because Size has not updated yet.

import (
	"expvar"
	"fmt"
)

// ConnStat sizes include estimated TCP overhead.
type ConnStat struct {
	Recv CountSizePair
	Send CountSizePair
}

func (cs *ConnStat) String() string {
	return fmt.Sprintf(`{"recv":%s,"send":%s}`, cs.Recv.String(), cs.Send.String())
}

type ServerStat struct {
	Conn          expvar.Int // registered right now
	Accepted      expvar.Int
	Authenticated expvar.Int
	Rejected      expvar.Int
	Timeouts      expvar.Int
	Ticks         expvar.Int
	Broadcast     CountSizePair // frames written to clients
	WriteFailures expvar.Int
	SinkErrors    expvar.Int
}

func (ss *ServerStat) Value() (r ServerStat) {
	r.Conn.Set(ss.Conn.Value())
	r.Accepted.Set(ss.Accepted.Value())
	r.Authenticated.Set(ss.Authenticated.Value())
	r.Rejected.Set(ss.Rejected.Value())
	r.Timeouts.Set(ss.Timeouts.Value())
	r.Ticks.Set(ss.Ticks.Value())
	r.Broadcast.Set(ss.Broadcast.Value())
	r.WriteFailures.Set(ss.WriteFailures.Value())
	r.SinkErrors.Set(ss.SinkErrors.Value())
	return
}

// String is JSON, so *ServerStat can be published as expvar.Var.
func (ss *ServerStat) String() string {
	return fmt.Sprintf(`{"conn":%d,"accepted":%d,"authenticated":%d,"rejected":%d,"timeouts":%d,"ticks":%d,"broadcast":%s,"write_failures":%d,"sink_errors":%d}`,
		ss.Conn.Value(), ss.Accepted.Value(), ss.Authenticated.Value(),
		ss.Rejected.Value(), ss.Timeouts.Value(), ss.Ticks.Value(),
		ss.Broadcast.String(), ss.WriteFailures.Value(), ss.SinkErrors.Value())
}

var _ expvar.Var = &ServerStat{}

type CountSizePair struct {
	Count expvar.Int
	Size  expvar.Int
}

func (csp *CountSizePair) Add(other *CountSizePair) {
	csp.Count.Add(other.Count.Value())
	csp.Size.Add(other.Size.Value())
}

func (csp *CountSizePair) Register(size int) {
	csp.Count.Add(1)
	csp.Size.Add(int64(size))
}

func (csp *CountSizePair) Value() (r CountSizePair) {
	r.Count.Set(csp.Count.Value())
	r.Size.Set(csp.Size.Value())
	return
}

func (csp *CountSizePair) Set(new CountSizePair) {
	csp.Count.Set(new.Count.Value())
	csp.Size.Set(new.Size.Value())
}

func (csp *CountSizePair) String() string {
	return fmt.Sprintf(`{"count":%d,"size":%d}`, csp.Count.Value(), csp.Size.Value())
}
