// Package admission bounds the number of concurrently processed
// transcription requests. Excess load is rejected immediately rather
// than queued.
package admission

// DefaultMaxConcurrent is the ceiling on in-flight transcriptions.
const DefaultMaxConcurrent = 5

type Controller struct {
	slots chan struct{}
}

func New(limit int) *Controller {
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}
	return &Controller{slots: make(chan struct{}, limit)}
}

// TryEnter claims a slot if one is free. It never blocks; a false
// return has no side effect and must not be paired with Leave.
func (c *Controller) TryEnter() bool {
	select {
	case c.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Leave frees a previously claimed slot. Calling it without a matching
// TryEnter is a no-op.
func (c *Controller) Leave() {
	select {
	case <-c.slots:
	default:
	}
}
