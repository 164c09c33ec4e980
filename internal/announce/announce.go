// Package announce implements the debounce/collect pipeline that merges
// subagent completions back into the parent conversation: multiple
// background runs finishing close together are coalesced into one
// trigger instead of interrupting the parent once per run.
package announce

import (
	"fmt"
	"sync"
	"time"
)

const debounceWindow = 2000 * time.Millisecond

// TriggerResult reports how a composed announcement reached the parent.
type TriggerResult string

const (
	TriggerSteered TriggerResult = "steered"
	TriggerInvoked TriggerResult = "invoked"
	TriggerFailed  TriggerResult = "failed"
)

// TriggerFunc delivers a composed message to a session, returning how it
// was delivered. It is the Gateway's triggerAgent re-entry path.
type TriggerFunc func(sessionKey, channel, message string) TriggerResult

// Item is one subagent's contribution to an announcement.
type Item struct {
	Label    string
	Outcome  string // "ok", "error", "timeout"
	Err      string
	Findings string
	Duration time.Duration
	Channel  string
}

type queue struct {
	mu       sync.Mutex
	items    []Item
	timer    *time.Timer
	draining bool
}

// Queue coalesces announcement items per requester session key and drains
// them into a single composed trigger after a debounce window.
type Queue struct {
	mu      sync.Mutex
	queues  map[string]*queue
	trigger TriggerFunc
}

func NewQueue(trigger TriggerFunc) *Queue {
	return &Queue{
		queues:  make(map[string]*queue),
		trigger: trigger,
	}
}

// Enqueue adds an item for sessionKey and resets its debounce timer to
// fire in 2000ms. Concurrent enqueues against the same key are safe.
func (q *Queue) Enqueue(sessionKey string, item Item) {
	q.mu.Lock()
	qu, ok := q.queues[sessionKey]
	if !ok {
		qu = &queue{}
		q.queues[sessionKey] = qu
	}
	q.mu.Unlock()

	qu.mu.Lock()
	defer qu.mu.Unlock()
	qu.items = append(qu.items, item)
	if qu.timer != nil {
		qu.timer.Stop()
	}
	qu.timer = time.AfterFunc(debounceWindow, func() {
		q.drain(sessionKey)
	})
}

func (q *Queue) drain(sessionKey string) {
	q.mu.Lock()
	qu, ok := q.queues[sessionKey]
	q.mu.Unlock()
	if !ok {
		return
	}

	qu.mu.Lock()
	if qu.draining {
		qu.mu.Unlock()
		return
	}
	qu.draining = true
	items := qu.items
	qu.items = nil
	channel := ""
	if len(items) > 0 {
		channel = items[len(items)-1].Channel
	}
	qu.mu.Unlock()

	if len(items) > 0 {
		message := compose(items)
		q.trigger(sessionKey, channel, message)
	}

	qu.mu.Lock()
	qu.draining = false
	empty := len(qu.items) == 0
	qu.mu.Unlock()

	if empty {
		q.mu.Lock()
		delete(q.queues, sessionKey)
		q.mu.Unlock()
	}
}

func statusPhrase(it Item) string {
	switch it.Outcome {
	case "ok":
		return "completed successfully"
	case "error":
		return fmt.Sprintf("failed: %s", it.Err)
	default:
		return "finished with unknown status"
	}
}

func compose(items []Item) string {
	if len(items) == 1 {
		it := items[0]
		return fmt.Sprintf(
			"Background task \"%s\" %s.\n\n%s\n\nDuration: %s\n\nSummarize this naturally for the user. Keep it brief (1-2 sentences). You can respond with NO_REPLY if no announcement is needed.",
			it.Label, statusPhrase(it), it.Findings, it.Duration.Round(time.Second),
		)
	}

	out := fmt.Sprintf("[%d background tasks completed]\n\n", len(items))
	for i, it := range items {
		out += fmt.Sprintf("--- Task %d: \"%s\" (%s) ---\n%s\n\n", i+1, it.Label, statusPhrase(it), it.Findings)
	}
	out += "Summarize these results together for the user. Keep it brief. You can respond with NO_REPLY if no announcement is needed."
	return out
}
