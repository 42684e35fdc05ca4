package game

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/coinpick/internal/domain"
)

// Round is the mutable aggregate for one play. It is not safe for concurrent
// use; the owning session serialises access.
//
// Lifecycle: Selecting (instruments chosen, no baseline) -> Active (baseline
// captured, countdown running) -> Ended. When the countdown reaches zero the
// round stays Active but locked until Finish settles it.
type Round struct {
	id               string
	instruments      []domain.Instrument
	timeframeMinutes int
	totalTicks       int
	remaining        int
	status           domain.RoundStatus
	selection        string
	locked           bool
	baseline         map[string]float64
	latest           map[string]float64
	change24h        map[string]float64
	startedAt        time.Time
}

// NewRound creates a round in the Selecting state. totalTicks is the number of
// countdown ticks the round lasts.
func NewRound(id string, instruments []domain.Instrument, timeframeMinutes, totalTicks int) *Round {
	return &Round{
		id:               id,
		instruments:      slices.Clone(instruments),
		timeframeMinutes: timeframeMinutes,
		totalTicks:       totalTicks,
		remaining:        totalTicks,
		status:           domain.RoundSelecting,
	}
}

func (r *Round) ID() string                       { return r.id }
func (r *Round) Status() domain.RoundStatus       { return r.status }
func (r *Round) Selection() string                { return r.selection }
func (r *Round) Locked() bool                     { return r.locked }
func (r *Round) Remaining() int                   { return r.remaining }
func (r *Round) Instruments() []domain.Instrument { return slices.Clone(r.instruments) }
func (r *Round) TimeframeMinutes() int            { return r.timeframeMinutes }

// IDs returns the round's instrument ids in display order.
func (r *Round) IDs() []string { return domain.InstrumentIDs(r.instruments) }

// Expired reports whether the countdown has reached zero.
func (r *Round) Expired() bool { return r.status == domain.RoundActive && r.remaining <= 0 }

// Activate captures baseline prices and starts the countdown. Every instrument
// needs a positive price; otherwise the round stays Selecting and the error
// wraps ErrBaselineFetchFailed.
func (r *Round) Activate(quotes map[string]domain.Quote, now time.Time) error {
	if r.status != domain.RoundSelecting {
		return fmt.Errorf("game: activate round %s: %w", r.id, domain.ErrRoundInProgress)
	}
	var missing []string
	for _, inst := range r.instruments {
		if q, ok := quotes[inst.ID]; !ok || q.Price <= 0 {
			missing = append(missing, inst.ID)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("game: no baseline for %s: %w", strings.Join(missing, ", "), domain.ErrBaselineFetchFailed)
	}

	r.baseline = make(map[string]float64, len(r.instruments))
	r.latest = make(map[string]float64, len(r.instruments))
	r.change24h = make(map[string]float64)
	for _, inst := range r.instruments {
		q := quotes[inst.ID]
		r.baseline[inst.ID] = q.Price
		r.latest[inst.ID] = q.Price
		if q.Change24h != nil {
			r.change24h[inst.ID] = *q.Change24h
		}
	}
	r.status = domain.RoundActive
	r.remaining = r.totalTicks
	r.startedAt = now
	return nil
}

// Select applies the toggle policy: picking the current selection clears it,
// any other instrument replaces it. The pick is frozen once the countdown
// expires. It returns the selection after the change.
func (r *Round) Select(id string) (string, error) {
	if r.locked || r.status == domain.RoundEnded {
		return r.selection, fmt.Errorf("game: select %s: %w", id, domain.ErrRoundEnded)
	}
	if !r.has(id) {
		return r.selection, fmt.Errorf("game: select %q: %w", id, domain.ErrUnknownInstrument)
	}
	if r.selection == id {
		r.selection = ""
	} else {
		r.selection = id
	}
	return r.selection, nil
}

// Tick advances the countdown by one unit. It returns true exactly once, on
// the tick that expires the round, and locks the selection at that point.
func (r *Round) Tick() bool {
	if r.status != domain.RoundActive || r.remaining <= 0 {
		return false
	}
	r.remaining--
	if r.remaining > 0 {
		return false
	}
	r.locked = true
	return true
}

// ApplyPrices overwrites latest prices for known instruments with a positive
// price. Results arriving after expiry are discarded. It returns the ids that
// were updated.
func (r *Round) ApplyPrices(prices map[string]float64) []string {
	if r.status != domain.RoundActive || r.locked {
		return nil
	}
	return r.mergeLatest(prices)
}

// Finish settles an expired round: the final prices are merged over the last
// polled prices, instruments are ranked and the outcome decided. fetched is
// false when the final refresh failed, in which case final is ignored. A
// round can be finished once.
func (r *Round) Finish(final map[string]float64, fetched bool, policy WinPolicy, player string, now time.Time) (domain.RoundReport, error) {
	if r.status != domain.RoundActive {
		return domain.RoundReport{}, fmt.Errorf("game: finish round %s: %w", r.id, domain.ErrRoundEnded)
	}
	if fetched {
		r.mergeLatest(final)
	}
	r.status = domain.RoundEnded
	r.locked = true
	r.remaining = 0

	rankings := Rank(r.instruments, r.baseline, r.latest)
	return domain.RoundReport{
		ID:               r.id,
		Player:           player,
		TimeframeMinutes: r.timeframeMinutes,
		Instruments:      slices.Clone(r.instruments),
		Selection:        r.selection,
		Outcome:          Evaluate(rankings, r.selection, policy),
		Winner:           Winner(rankings),
		Rankings:         rankings,
		StartedAt:        r.startedAt,
		EndedAt:          now,
		FinalFetchFailed: !fetched,
	}, nil
}

// ChangePct reports the live change for id against its baseline.
func (r *Round) ChangePct(id string) (float64, error) {
	return ChangePct(r.baseline[id], r.latest[id])
}

// Latest returns the latest price for id.
func (r *Round) Latest(id string) (float64, bool) {
	p, ok := r.latest[id]
	return p, ok
}

// Snapshot copies the round for presentation. remainingSeconds converts ticks
// using the caller's tick interval.
func (r *Round) Snapshot(tick time.Duration) domain.RoundSnapshot {
	return domain.RoundSnapshot{
		ID:               r.id,
		Status:           r.status,
		Instruments:      slices.Clone(r.instruments),
		Selection:        r.selection,
		Locked:           r.locked,
		TimeframeMinutes: r.timeframeMinutes,
		RemainingSeconds: int((time.Duration(r.remaining) * tick).Seconds()),
		Baseline:         cloneMap(r.baseline),
		Latest:           cloneMap(r.latest),
		Change24h:        cloneMap(r.change24h),
	}
}

// StartedPayload builds the round_started event body.
func (r *Round) StartedPayload(tick time.Duration) domain.RoundStartedPayload {
	return domain.RoundStartedPayload{
		Instruments:      slices.Clone(r.instruments),
		Baseline:         cloneMap(r.baseline),
		Change24h:        cloneMap(r.change24h),
		TimeframeMinutes: r.timeframeMinutes,
		RemainingSeconds: int((time.Duration(r.remaining) * tick).Seconds()),
	}
}

func (r *Round) mergeLatest(prices map[string]float64) []string {
	var updated []string
	for _, inst := range r.instruments {
		if p, ok := prices[inst.ID]; ok && p > 0 {
			r.latest[inst.ID] = p
			updated = append(updated, inst.ID)
		}
	}
	return updated
}

func (r *Round) has(id string) bool {
	for _, inst := range r.instruments {
		if inst.ID == id {
			return true
		}
	}
	return false
}

func cloneMap(m map[string]float64) map[string]float64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
