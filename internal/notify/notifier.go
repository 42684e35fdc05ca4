// Package notify sends round results to chat channels (Telegram, Discord),
// filtered by notification event type.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/coinpick/internal/domain"
	"github.com/alanyoungcy/coinpick/internal/game"
)

// Notification event types accepted in notify.events.
const (
	EventRoundWon   = "round_won"
	EventRoundLost  = "round_lost"
	EventBestStreak = "best_streak"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Notify only
// forwards allowed event types; NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded by Notify.
// If events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a notification to all senders only if the event type is in the
// allowed list. If no events were configured (empty list), all events pass.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
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

// HandleEvent turns a finished round into round_won or round_lost, plus
// best_streak when the round set a new record. No-pick rounds and other
// session events are ignored. Delivery errors are logged by dispatch.
func (n *Notifier) HandleEvent(ctx context.Context, ev domain.Event) {
	if ev.Type != domain.EventRoundEnded {
		return
	}
	p, ok := ev.Payload.(domain.RoundEndedPayload)
	if !ok {
		return
	}
	r := p.Report

	switch r.Outcome {
	case domain.OutcomeWin:
		_ = n.Notify(ctx, EventRoundWon, "CoinPick: round won", describeRound(r))
	case domain.OutcomeLoss:
		_ = n.Notify(ctx, EventRoundLost, "CoinPick: round lost", describeRound(r))
	default:
		return
	}

	if p.NewBestStreak {
		_ = n.Notify(ctx, EventBestStreak, "CoinPick: new best streak",
			fmt.Sprintf("%s reached a best streak after round %s", r.Player, r.ID))
	}
}

// describeRound renders the player's pick, the winner and the full ranking.
func describeRound(r domain.RoundReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s picked %s, winner %s (%d min)\n",
		r.Player, symbolOf(r, r.Selection), symbolOf(r, r.Winner), r.TimeframeMinutes)
	for _, rk := range r.Rankings {
		if rk.Unavailable {
			fmt.Fprintf(&b, "%d. %s n/a\n", rk.Rank, rk.Instrument.Symbol)
			continue
		}
		fmt.Fprintf(&b, "%d. %s %s (%s)\n",
			rk.Rank, rk.Instrument.Symbol, game.FormatChange(rk.ChangePct), game.FormatPrice(rk.Final))
	}
	return strings.TrimRight(b.String(), "\n")
}

func symbolOf(r domain.RoundReport, id string) string {
	if id == "" {
		return "none"
	}
	for _, inst := range r.Instruments {
		if inst.ID == id {
			return inst.Symbol
		}
	}
	return id
}

var _ domain.EventSink = (*Notifier)(nil)
