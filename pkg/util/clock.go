package util

import "time"

// Clock abstracts time so engine logic can be driven deterministically in tests.
// Expiry decisions always go through NowMs.
type Clock interface {
	Now() time.Time
	NowMs() uint64
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
func (RealClock) NowMs() uint64  { return uint64(time.Now().UnixMilli()) }

// ManualClock is a settable clock for tests and simulations.
type ManualClock struct {
	ms uint64
}

func NewManualClock(ms uint64) *ManualClock { return &ManualClock{ms: ms} }

func (c *ManualClock) Now() time.Time          { return time.UnixMilli(int64(c.ms)) }
func (c *ManualClock) NowMs() uint64           { return c.ms }
func (c *ManualClock) Advance(d time.Duration) { c.ms += uint64(d.Milliseconds()) }
func (c *ManualClock) Set(ms uint64)           { c.ms = ms }
