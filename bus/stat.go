package bus

import (
	"fmt"
	"sync/atomic"
)

// Endpoint counters. Safe for concurrent use, read with Snapshot().
type Stat struct {
	sent      uint64
	sentBytes uint64
	dropped   uint64
	received  uint64
	rejected  uint64
	clients   int64
}

type StatSnapshot struct {
	Sent      uint64
	SentBytes uint64
	Dropped   uint64
	Received  uint64
	Rejected  uint64
	Clients   int64
}

func (s *StatSnapshot) String() string {
	return fmt.Sprintf("sent=%d bytes=%d dropped=%d received=%d rejected=%d clients=%d",
		s.Sent, s.SentBytes, s.Dropped, s.Received, s.Rejected, s.Clients)
}

func (s *Stat) Snapshot() StatSnapshot {
	return StatSnapshot{
		Sent:      atomic.LoadUint64(&s.sent),
		SentBytes: atomic.LoadUint64(&s.sentBytes),
		Dropped:   atomic.LoadUint64(&s.dropped),
		Received:  atomic.LoadUint64(&s.received),
		Rejected:  atomic.LoadUint64(&s.rejected),
		Clients:   atomic.LoadInt64(&s.clients),
	}
}

func (s *Stat) addSent(n int) {
	atomic.AddUint64(&s.sent, 1)
	atomic.AddUint64(&s.sentBytes, uint64(n))
}
func (s *Stat) addDropped()        { atomic.AddUint64(&s.dropped, 1) }
func (s *Stat) addReceived()       { atomic.AddUint64(&s.received, 1) }
func (s *Stat) AddRejected()       { atomic.AddUint64(&s.rejected, 1) }
func (s *Stat) addClients(d int64) { atomic.AddInt64(&s.clients, d) }
