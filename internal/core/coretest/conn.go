// Package coretest has in-memory doubles for the core interfaces.
package coretest

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/Collab/internal/core"
)

// Conn records every accepted frame.
type Conn struct {
	id core.ConnID

	mu     sync.Mutex
	frames []core.Frame
	closed bool
	fail   error
	limit  int
}

func NewConn(id string) *Conn { return &Conn{id: core.ConnID(id)} }

func (c *Conn) ID() core.ConnID { return c.id }

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return core.ErrConnClosed
	case c.fail != nil:
		return c.fail
	case c.limit > 0 && len(c.frames) >= c.limit:
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// FailWith makes every later send return err.
func (c *Conn) FailWith(err error) {
	c.mu.Lock()
	c.fail = err
	c.mu.Unlock()
}

// Limit caps the number of buffered frames; further sends report
// backpressure.
func (c *Conn) Limit(n int) {
	c.mu.Lock()
	c.limit = n
	c.mu.Unlock()
}

func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// Messages decodes every recorded frame.
func (c *Conn) Messages() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			m = map[string]any{"raw": string(f)}
		}
		out = append(out, m)
	}
	return out
}

// Types lists the type field of every recorded frame.
func (c *Conn) Types() []string {
	msgs := c.Messages()
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		t, _ := m["type"].(string)
		out = append(out, t)
	}
	return out
}

// Last returns the newest message of type t.
func (c *Conn) Last(t string) (map[string]any, bool) {
	msgs := c.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i]["type"] == t {
			return msgs[i], true
		}
	}
	return nil, false
}

// Count returns how many messages of type t were recorded.
func (c *Conn) Count(t string) int {
	n := 0
	for _, got := range c.Types() {
		if got == t {
			n++
		}
	}
	return n
}
