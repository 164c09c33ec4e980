// Package followup implements the FollowupQueue: the mechanism by which a
// message arriving for a session that already has a running turn either
// steers that turn live or gets queued for later collection.
package followup

import "sync"

// Mode selects how Enqueue behaves.
type Mode string

const (
	// ModeSteer immediately invokes the registered callback: inject into
	// the live runner if one is active, otherwise route as a fresh
	// message. This is the default, real-time "ask mid-tool" path.
	ModeSteer Mode = "steer"
	// ModeCollect accumulates messages per session; the Gateway chooses
	// when to Drain them. Preserved for deterministic replay.
	ModeCollect Mode = "collect"
)

// Callback is invoked for a steered message. isActive reports whether a
// runner is currently live for sessionKey; if so, the callback delivers
// text into it.
// If no runner is active, the callback is responsible for routing the
// message as if freshly arrived.
type Callback func(sessionKey, text string, isActive bool)

// Queue implements both FollowupQueue modes.
type Queue struct {
	mode     Mode
	callback Callback

	mu      sync.Mutex
	pending map[string][]string
	active  map[string]bool
}

func NewQueue(mode Mode, callback Callback) *Queue {
	if mode == "" {
		mode = ModeSteer
	}
	return &Queue{
		mode:     mode,
		callback: callback,
		pending:  make(map[string][]string),
		active:   make(map[string]bool),
	}
}

// SetActive marks whether a runner is currently live for sessionKey. The
// Gateway calls this as runners start and stop.
func (q *Queue) SetActive(sessionKey string, active bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if active {
		q.active[sessionKey] = true
	} else {
		delete(q.active, sessionKey)
	}
}

func (q *Queue) isActive(sessionKey string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active[sessionKey]
}

// Enqueue adds a message for sessionKey. In steer mode this synchronously
// invokes the callback. In collect mode the message is buffered until
// Drain is called.
func (q *Queue) Enqueue(sessionKey, text string) {
	if q.mode == ModeCollect {
		q.mu.Lock()
		q.pending[sessionKey] = append(q.pending[sessionKey], text)
		q.mu.Unlock()
		return
	}
	q.callback(sessionKey, text, q.isActive(sessionKey))
}

// Drain returns and clears all buffered messages for sessionKey. Only
// meaningful in collect mode; in steer mode it always returns nil since
// nothing is ever buffered.
func (q *Queue) Drain(sessionKey string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.pending[sessionKey]
	delete(q.pending, sessionKey)
	return msgs
}

// Mode reports the queue's configured mode.
func (q *Queue) Mode() Mode {
	return q.mode
}
