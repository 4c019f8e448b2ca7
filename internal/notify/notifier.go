// Package notify delivers operator alerts to chat channels. Alerts are
// dispatched to every registered sender (Discord, Telegram) and can be
// filtered by event type.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "discord").
	Name() string
}

var titles = map[string]string{
	domain.EventTradeExecuted:  "Trade executed",
	domain.EventOpportunity:    "Opportunity (dry run)",
	domain.EventLegFailed:      "Leg failed",
	domain.EventSolverAnomaly:  "Solver anomaly",
	domain.EventMonitorCrash:   "Monitor crashed",
	domain.EventAllowanceTopUp: "Allowance topped up",
}

// Title returns the display title for an event.
func Title(event string) string {
	if t, ok := titles[event]; ok {
		return t
	}
	return event
}

// Notifier dispatches notifications to one or more Senders. Notify only
// forwards events in the allowed set; NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	prefix  string
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. If
// events is empty, all event types are allowed. prefix is prepended to
// every title so several deployments can share a channel.
func NewNotifier(senders []Sender, events []string, prefix string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		prefix:  prefix,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Senders returns the number of configured senders.
func (n *Notifier) Senders() int { return len(n.senders) }

// Notify sends message to all senders if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, n.title(event), message)
}

// NotifyAll sends a notification to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, event, message string) error {
	return n.dispatch(ctx, n.title(event), message)
}

func (n *Notifier) title(event string) string {
	if n.prefix == "" {
		return Title(event)
	}
	return n.prefix + " " + Title(event)
}

// dispatch sends to every sender. A single sender failure does not prevent
// delivery to the others; failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
