package domain

import "time"

// Outcome is the result of a round for the player.
type Outcome string

const (
	OutcomeWin    Outcome = "win"
	OutcomeLoss   Outcome = "loss"
	OutcomeNoPick Outcome = "no_pick"
)

// RoundStatus is the phase of a round.
type RoundStatus string

const (
	// RoundIdle is reported before the first round is created.
	RoundIdle      RoundStatus = "idle"
	RoundSelecting RoundStatus = "selecting"
	RoundActive    RoundStatus = "active"
	RoundEnded     RoundStatus = "ended"
)

// Ranking is one instrument's placement at round end. Unavailable instruments
// have no usable baseline and sort after every valid one.
type Ranking struct {
	Instrument  Instrument `json:"instrument"`
	Rank        int        `json:"rank"`
	Baseline    float64    `json:"baseline"`
	Final       float64    `json:"final"`
	ChangePct   float64    `json:"change_pct"`
	Unavailable bool       `json:"unavailable,omitempty"`
}

// RoundReport is the immutable record of a finished round.
type RoundReport struct {
	ID               string       `json:"id"`
	Player           string       `json:"player"`
	TimeframeMinutes int          `json:"timeframe_minutes"`
	Instruments      []Instrument `json:"instruments"`
	Selection        string       `json:"selection,omitempty"`
	Outcome          Outcome      `json:"outcome"`
	Winner           string       `json:"winner"`
	Rankings         []Ranking    `json:"rankings"`
	StartedAt        time.Time    `json:"started_at"`
	EndedAt          time.Time    `json:"ended_at"`
	// FinalFetchFailed is set when the end-of-round refresh failed and the
	// last polled prices were used.
	FinalFetchFailed bool `json:"final_fetch_failed,omitempty"`
}

// RoundSnapshot is a read-only view of the current round for presentation.
type RoundSnapshot struct {
	ID               string             `json:"id,omitempty"`
	Status           RoundStatus        `json:"status"`
	Instruments      []Instrument       `json:"instruments"`
	Selection        string             `json:"selection,omitempty"`
	Locked           bool               `json:"locked"`
	TimeframeMinutes int                `json:"timeframe_minutes,omitempty"`
	RemainingSeconds int                `json:"remaining_seconds"`
	Baseline         map[string]float64 `json:"baseline,omitempty"`
	Latest           map[string]float64 `json:"latest,omitempty"`
	Change24h        map[string]float64 `json:"change_24h,omitempty"`
	LastResult       *RoundReport       `json:"last_result,omitempty"`
}
