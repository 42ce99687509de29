package engine

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventWorkHidden  EventType = "work-hidden"
	EventWorkVisible EventType = "work-visible"
)

// OriginTag marks events caused by tag matching.
const OriginTag = "tag"

type Event struct {
	ID      string    `json:"id"`
	Type    EventType `json:"type"`
	WorkID  string    `json:"work_id"`
	By      string    `json:"by"`
	Reasons []string  `json:"reasons,omitempty"`
	At      time.Time `json:"at"`
}

func newEvent(t EventType, workID string, reasons []string) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    t,
		WorkID:  workID,
		By:      OriginTag,
		Reasons: reasons,
		At:      time.Now(),
	}
}

// Listener receives engine events. Listeners are called after the engine
// has released the page, so they may call back into it.
type Listener func(Event)

// VisibilityCoordinator is an optional higher-priority visibility source.
// When ShouldBeVisible reports true the engine does not hide the work.
type VisibilityCoordinator interface {
	ShouldBeVisible(workID string) bool
	GetReasons(workID string) []string
}

// Notifier shows transient confirmations to the user.
type Notifier interface {
	Notify(message string)
}

type logNotifier struct{}

func (logNotifier) Notify(message string) {
	slog.Info("Notification", "message", message)
}
