package queue

import "sync/atomic"

// seqClock hands out strictly increasing submission sequence numbers.
// createdAt can tie under a coarse or fake wall clock; seq never does.
type seqClock struct {
	seq atomic.Int64
}

func (c *seqClock) Next() int64 {
	return c.seq.Add(1)
}
