/*
Package notify delivers semantic outcome notifications.

PURPOSE:
  Domain services emit an Event for every user-visible outcome (remote day
  earned, request approved, vote submitted, ...). How the outcome reaches
  the user is decided here:
    - WorkerPool: Web Push to the employee's registered browsers
    - LogNotifier: structured log line only (no VAPID keys configured)

DELIVERY:
  Notify never blocks the caller. The worker pool has a bounded queue; when
  it is full the event is dropped with a warning.

SEE ALSO:
  - worker.go: Web Push worker pool
  - subscriptions.go: Push subscription records in the KV namespace
*/
package notify

import (
	"context"
	"log/slog"

	"github.com/hibridge/engine/generic"
)

// Kind identifies the outcome being reported.
type Kind string

const (
	KindRemoteDayEarned  Kind = "remote_day_earned"
	KindRequestCreated   Kind = "request_created"
	KindRequestApproved  Kind = "request_approved"
	KindRequestRejected  Kind = "request_rejected"
	KindRequestCancelled Kind = "request_cancelled"
	KindVotesSubmitted   Kind = "votes_submitted"
	KindCheckIn          Kind = "checkin"
)

// Event is a semantic outcome: who it concerns, whether it succeeded, and a message.
type Event struct {
	Kind       Kind               `json:"kind"`
	EmployeeID generic.EmployeeID `json:"employee_id"`
	TeamID     generic.TeamID     `json:"team_id,omitempty"`
	Success    bool               `json:"success"`
	Message    string             `json:"message"`
}

// Notifier receives outcome events.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{Logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, ev Event) {
	n.Logger.InfoContext(ctx, "notification",
		"component", "notify",
		"kind", ev.Kind,
		"employee_id", ev.EmployeeID,
		"team_id", ev.TeamID,
		"success", ev.Success,
		"message", ev.Message,
	)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Notify(context.Context, Event) {}

// Multi fans an event out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		n.Notify(ctx, ev)
	}
}
