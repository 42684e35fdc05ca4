package domain

import (
	"context"
	"time"
)

// EventType names a presentation-facing event.
type EventType string

const (
	EventRoundStarted     EventType = "round_started"
	EventSelectionChanged EventType = "selection_changed"
	EventPriceTick        EventType = "price_tick"
	EventCountdownTick    EventType = "countdown_tick"
	EventRoundEnded       EventType = "round_ended"
	EventRoundCancelled   EventType = "round_cancelled"
	EventStatsChanged     EventType = "stats_changed"
)

// Event is emitted by the session to every registered sink.
type Event struct {
	Type    EventType `json:"type"`
	RoundID string    `json:"round_id,omitempty"`
	Time    time.Time `json:"ts"`
	Payload any       `json:"payload,omitempty"`
}

// RoundStartedPayload accompanies EventRoundStarted.
type RoundStartedPayload struct {
	Instruments      []Instrument       `json:"instruments"`
	Baseline         map[string]float64 `json:"baseline"`
	Change24h        map[string]float64 `json:"change_24h,omitempty"`
	TimeframeMinutes int                `json:"timeframe_minutes"`
	RemainingSeconds int                `json:"remaining_seconds"`
}

// SelectionChangedPayload accompanies EventSelectionChanged. An empty
// Selection means the pick was cleared.
type SelectionChangedPayload struct {
	Selection string `json:"selection"`
}

// PriceTickPayload accompanies EventPriceTick, one per instrument per poll.
type PriceTickPayload struct {
	ID        string  `json:"id"`
	Price     float64 `json:"price"`
	ChangePct float64 `json:"change_pct"`
}

// CountdownTickPayload accompanies EventCountdownTick.
type CountdownTickPayload struct {
	RemainingSeconds int `json:"remaining_seconds"`
}

// RoundEndedPayload accompanies EventRoundEnded.
type RoundEndedPayload struct {
	Report RoundReport `json:"report"`
	// NewBestStreak is set when this round raised the best streak.
	NewBestStreak bool `json:"new_best_streak,omitempty"`
}

// StatsChangedPayload accompanies EventStatsChanged.
type StatsChangedPayload struct {
	Stats Summary `json:"stats"`
	// Persisted is false when the write failed and the value lives only in
	// memory.
	Persisted bool `json:"persisted"`
}

// EventSink consumes session events. Implementations must not block for long
// and handle their own errors.
type EventSink interface {
	HandleEvent(ctx context.Context, ev Event)
}
