// Package atomic_clock is atomic int64 unix nanoseconds timestamp.
// Use for time accounting between goroutines, e.g. last received message.
package atomic_clock

import (
	"sync/atomic"
	"time"
)

// Zero value is valid and means "never".
type Clock struct{ v int64 }

func source() int64 { return time.Now().UnixNano() }

func New(v int64) *Clock { return &Clock{v: v} }
func Now() *Clock        { return New(source()) }

func (c *Clock) IsZero() bool    { return c.UnixNano() == 0 }
func (c *Clock) UnixNano() int64 { return atomic.LoadInt64(&c.v) }
func (c *Clock) Time() time.Time { return time.Unix(0, c.UnixNano()) }

func (c *Clock) Set(t time.Time) { atomic.StoreInt64(&c.v, t.UnixNano()) }
func (c *Clock) SetNow()         { atomic.StoreInt64(&c.v, source()) }
func (c *Clock) Reset()          { atomic.StoreInt64(&c.v, 0) }

func (c *Clock) Sub(begin *Clock) time.Duration { return time.Duration(c.UnixNano() - begin.UnixNano()) }

func Since(begin *Clock) time.Duration { return time.Duration(source() - begin.UnixNano()) }
