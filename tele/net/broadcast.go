package telenet

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/carrotview/tele"
)

// Sink is a secondary consumer of every broadcast payload (JSON, without frame header).
type Sink interface {
	Publish(payload []byte) error
}

// time.Ticker drops ticks when Tick overruns period.
func (s *Server) broadcastLoop() {
	defer s.alive.Done()
	tmr := time.NewTicker(s.opt.Period)
	defer tmr.Stop()
	stopch := s.alive.StopChan()
	for {
		select {
		case <-tmr.C:
			s.Tick()
		case <-stopch:
			return
		}
	}
}

// Tick fetches one snapshot, sends it to all registered connections
// and removes those that failed. Returns number of successful sends.
func (s *Server) Tick() int {
	s.stat.Ticks.Add(1)
	snap := s.opt.Source()
	payload, err := tele.MarshalSnapshot(snap)
	if err != nil {
		s.log.Error(errors.Annotate(err, "broadcast marshal"))
		return 0
	}
	frame, err := FrameEncode(FrameFlagRaw, payload)
	if err != nil {
		s.log.Error(errors.Annotate(err, "broadcast encode"))
		return 0
	}

	conns := s.registry.Conns()
	var failed []*WriteFailure
	if len(conns) != 0 {
		failed = s.sendAll(conns, frame)
	}
	for _, wf := range failed {
		s.stat.WriteFailures.Add(1)
		s.log.Debugf("broadcast %s", wf.Error())
		s.registry.Remove(wf.Conn, wf)
	}

	for _, sink := range s.opt.Sinks {
		if err := sink.Publish(payload); err != nil {
			s.stat.SinkErrors.Add(1)
			s.log.Errorf("broadcast sink err=%v", err)
		}
	}
	return len(conns) - len(failed)
}

func (s *Server) sendAll(conns []Conn, frame []byte) []*WriteFailure {
	ctx, cancel := context.WithTimeout(s.ctx, s.opt.WriteTimeout)
	defer cancel()

	var mu sync.Mutex
	var wg sync.WaitGroup
	failed := make([]*WriteFailure, 0)
	wg.Add(len(conns))
	for _, c := range conns {
		go func(c Conn) {
			defer wg.Done()
			if err := c.Send(ctx, frame); err != nil {
				mu.Lock()
				failed = append(failed, &WriteFailure{Conn: c, Err: err})
				mu.Unlock()
				return
			}
			s.stat.Broadcast.Register(len(frame))
		}(c)
	}
	wg.Wait()
	return failed
}
