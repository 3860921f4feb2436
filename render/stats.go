package render

import "sync/atomic"

// Stats is a snapshot of renderer counters.
type Stats struct {
	Submitted  uint64
	Delivered  uint64
	Failed     uint64
	Cancelled  uint64
	Superseded uint64
	MemoHits   uint64
	Unstable   uint64
}

type counters struct {
	submitted  atomic.Uint64
	delivered  atomic.Uint64
	failed     atomic.Uint64
	cancelled  atomic.Uint64
	superseded atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Submitted:  c.submitted.Load(),
		Delivered:  c.delivered.Load(),
		Failed:     c.failed.Load(),
		Cancelled:  c.cancelled.Load(),
		Superseded: c.superseded.Load(),
	}
}
