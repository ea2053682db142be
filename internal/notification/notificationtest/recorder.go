// Package notificationtest records notifications instead of delivering them.
package notificationtest

import (
	"sync"

	"laundry-share-backend/internal/notification"
)

// Sent is one recorded notification.
type Sent struct {
	To           notification.Recipient
	Notification notification.Notification
}

// Recorder implements notification.Notifier.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
}

func (r *Recorder) Notify(to notification.Recipient, n notification.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{To: to, Notification: n})
}

// All returns every recorded notification.
func (r *Recorder) All() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Titled returns the notifications whose title equals title.
func (r *Recorder) Titled(title string) []Sent {
	var out []Sent
	for _, s := range r.All() {
		if s.Notification.Title == title {
			out = append(out, s)
		}
	}
	return out
}
