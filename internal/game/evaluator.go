// Package game holds the pure round model: price-change arithmetic, ranking,
// outcome policy and the per-round state machine. Nothing here performs I/O or
// reads the clock.
package game

import (
	"fmt"
	"math"
	"sort"

	"github.com/alanyoungcy/coinpick/internal/domain"
)

// WinPolicy decides whether the player's pick won. TopN <= 1 is
// winner-take-all.
type WinPolicy struct {
	TopN int
}

// WinnerTakeAll wins only when the pick ranks first.
func WinnerTakeAll() WinPolicy { return WinPolicy{TopN: 1} }

// TopN wins when the pick ranks within the first n.
func TopN(n int) WinPolicy { return WinPolicy{TopN: n} }

// ParseWinPolicy maps the config names "winner_take_all" and "top_n".
func ParseWinPolicy(name string, n int) (WinPolicy, error) {
	switch name {
	case "", "winner_take_all":
		return WinnerTakeAll(), nil
	case "top_n":
		if n < 1 {
			return WinPolicy{}, fmt.Errorf("game: top_n must be >= 1, got %d", n)
		}
		return TopN(n), nil
	}
	return WinPolicy{}, fmt.Errorf("game: unknown win policy %q", name)
}

func (p WinPolicy) cutoff() int {
	if p.TopN < 1 {
		return 1
	}
	return p.TopN
}

// String reports the policy in config form.
func (p WinPolicy) String() string {
	if p.cutoff() == 1 {
		return "winner_take_all"
	}
	return fmt.Sprintf("top_%d", p.TopN)
}

// ChangePct is (final-baseline)/baseline*100. A zero, negative or non-finite
// baseline yields ErrSourceUnavailable instead of NaN or Inf.
func ChangePct(baseline, final float64) (float64, error) {
	if baseline <= 0 || math.IsNaN(baseline) || math.IsInf(baseline, 0) {
		return 0, fmt.Errorf("game: baseline %v: %w", baseline, domain.ErrSourceUnavailable)
	}
	if math.IsNaN(final) || math.IsInf(final, 0) {
		return 0, fmt.Errorf("game: final %v: %w", final, domain.ErrSourceUnavailable)
	}
	return (final - baseline) / baseline * 100, nil
}

// Rank orders insts by change percentage, highest first. Ties keep the input
// order. Instruments without a usable baseline or final price are flagged
// unavailable and placed after all others.
func Rank(insts []domain.Instrument, baseline, final map[string]float64) []domain.Ranking {
	out := make([]domain.Ranking, len(insts))
	for i, inst := range insts {
		b, f := baseline[inst.ID], final[inst.ID]
		r := domain.Ranking{Instrument: inst, Baseline: b, Final: f}
		_, hasFinal := final[inst.ID]
		pct, err := ChangePct(b, f)
		if err != nil || !hasFinal || f <= 0 {
			r.Unavailable = true
		} else {
			r.ChangePct = pct
		}
		out[i] = r
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Unavailable != out[j].Unavailable {
			return !out[i].Unavailable
		}
		return out[i].ChangePct > out[j].ChangePct
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// Winner returns the id of the top-ranked available instrument, or "" if none
// is available.
func Winner(rankings []domain.Ranking) string {
	if len(rankings) == 0 || rankings[0].Unavailable {
		return ""
	}
	return rankings[0].Instrument.ID
}

// Evaluate decides the outcome for selection. An empty selection is NoPick.
// An unavailable pick never wins.
func Evaluate(rankings []domain.Ranking, selection string, policy WinPolicy) domain.Outcome {
	if selection == "" {
		return domain.OutcomeNoPick
	}
	for _, r := range rankings {
		if r.Instrument.ID != selection {
			continue
		}
		if !r.Unavailable && r.Rank <= policy.cutoff() {
			return domain.OutcomeWin
		}
		return domain.OutcomeLoss
	}
	return domain.OutcomeLoss
}
