package model

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a new lexically sortable identifier.
func NewID() string {
	return ulid.Make().String()
}

// Clock hands out millisecond timestamps that never go backwards and always
// exceed every timestamp it has observed, local or remote.
type Clock struct {
	mu   sync.Mutex
	wall func() time.Time
	last int64
}

func NewClock(wall func() time.Time) *Clock {
	if wall == nil {
		wall = time.Now
	}
	return &Clock{wall: wall}
}

func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.wall().UnixMilli()
	if now <= c.last {
		now = c.last + 1
	}
	c.last = now
	return now
}

func (c *Clock) Observe(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts > c.last {
		c.last = ts
	}
}
