package notify

import (
	"sync"
	"time"

	appLog "untisched/internal/log"
)

// TimerNotifier is an in-process Notifier backed by time.AfterFunc.
// Delivery is a callback so the embedding process decides what a firing
// reminder actually does (desktop notification, webhook, log line).
type TimerNotifier struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	deliver func(Payload)
}

// NewTimerNotifier builds a TimerNotifier. A nil deliver callback logs
// fired reminders instead.
func NewTimerNotifier(deliver func(Payload)) *TimerNotifier {
	if deliver == nil {
		deliver = func(p Payload) {
			appLog.Info("reminder fired", "title", p.Title, "body", p.Body)
		}
	}
	return &TimerNotifier{
		timers:  make(map[string]*time.Timer),
		deliver: deliver,
	}
}

// Schedule arms a timer for the given trigger time. An existing timer
// under the same dedupeID is stopped and replaced, so double scheduling
// is idempotent.
func (n *TimerNotifier) Schedule(at time.Time, payload Payload, dedupeID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if old, ok := n.timers[dedupeID]; ok {
		old.Stop()
	}

	n.timers[dedupeID] = time.AfterFunc(time.Until(at), func() {
		n.mu.Lock()
		delete(n.timers, dedupeID)
		n.mu.Unlock()
		n.deliver(payload)
	})
	return nil
}

// CancelAll stops and forgets every armed timer.
func (n *TimerNotifier) CancelAll() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, t := range n.timers {
		t.Stop()
		delete(n.timers, id)
	}
	return nil
}

// Pending returns the number of armed reminders, for status reporting
// and tests.
func (n *TimerNotifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.timers)
}
