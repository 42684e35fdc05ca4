package game

import (
	"errors"
	"math"
	"testing"

	"github.com/alanyoungcy/coinpick/internal/domain"
)

var (
	instA = domain.Instrument{ID: "a", Symbol: "A"}
	instB = domain.Instrument{ID: "b", Symbol: "B"}
	instC = domain.Instrument{ID: "c", Symbol: "C"}
	instD = domain.Instrument{ID: "d", Symbol: "D"}
	abcd  = []domain.Instrument{instA, instB, instC, instD}
)

func rankedIDs(rs []domain.Ranking) []string {
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.Instrument.ID
	}
	return ids
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestChangePct(t *testing.T) {
	tests := []struct {
		name     string
		baseline float64
		final    float64
		want     float64
	}{
		{"unchanged", 123.45, 123.45, 0},
		{"up one percent", 100, 101, 1},
		{"down two percent", 50, 49, -2},
		{"up ten percent", 1, 1.1, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ChangePct(tt.baseline, tt.final)
			if err != nil {
				t.Fatalf("ChangePct error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ChangePct(%v, %v) = %v, want %v", tt.baseline, tt.final, got, tt.want)
			}
		})
	}

	t.Run("zero baseline", func(t *testing.T) {
		got, err := ChangePct(0, 10)
		if !errors.Is(err, domain.ErrSourceUnavailable) {
			t.Fatalf("err = %v, want ErrSourceUnavailable", err)
		}
		if math.IsNaN(got) || math.IsInf(got, 0) {
			t.Errorf("got non-finite %v", got)
		}
	})

	t.Run("equal prices is exactly zero", func(t *testing.T) {
		got, _ := ChangePct(0.00001234, 0.00001234)
		if got != 0 {
			t.Errorf("ChangePct = %v, want exactly 0", got)
		}
	})
}

func TestRankScenario(t *testing.T) {
	baseline := map[string]float64{"a": 100, "b": 50, "c": 10, "d": 1}
	final := map[string]float64{"a": 101, "b": 49, "c": 10.5, "d": 1.1}

	rankings := Rank(abcd, baseline, final)

	if got, want := rankedIDs(rankings), []string{"d", "c", "a", "b"}; !equalIDs(got, want) {
		t.Fatalf("ranking = %v, want %v", got, want)
	}
	wantPct := map[string]float64{"a": 1, "b": -2, "c": 5, "d": 10}
	for i, r := range rankings {
		if r.Rank != i+1 {
			t.Errorf("%s Rank = %d, want %d", r.Instrument.ID, r.Rank, i+1)
		}
		if math.Abs(r.ChangePct-wantPct[r.Instrument.ID]) > 1e-9 {
			t.Errorf("%s ChangePct = %v, want %v", r.Instrument.ID, r.ChangePct, wantPct[r.Instrument.ID])
		}
	}

	if got := Winner(rankings); got != "d" {
		t.Errorf("Winner = %q, want d", got)
	}
	if got := Evaluate(rankings, "d", WinnerTakeAll()); got != domain.OutcomeWin {
		t.Errorf("select d: outcome = %s, want win", got)
	}
	if got := Evaluate(rankings, "b", WinnerTakeAll()); got != domain.OutcomeLoss {
		t.Errorf("select b: outcome = %s, want loss", got)
	}
	if got := Evaluate(rankings, "", WinnerTakeAll()); got != domain.OutcomeNoPick {
		t.Errorf("no selection: outcome = %s, want no_pick", got)
	}
}

func TestRankStableOnTies(t *testing.T) {
	baseline := map[string]float64{"a": 10, "b": 20, "c": 40, "d": 5}
	final := map[string]float64{"a": 11, "b": 22, "c": 40, "d": 5.5}

	got := rankedIDs(Rank(abcd, baseline, final))
	want := []string{"a", "b", "d", "c"}
	if !equalIDs(got, want) {
		t.Errorf("ranking = %v, want %v", got, want)
	}
}

func TestRankDescending(t *testing.T) {
	insts := make([]domain.Instrument, 10)
	baseline := map[string]float64{}
	final := map[string]float64{}
	for i := range insts {
		id := string(rune('a' + i))
		insts[i] = domain.Instrument{ID: id}
		baseline[id] = float64(i + 1)
		final[id] = float64(i+1) * (1 + float64((i*7)%10-5)/100)
	}

	rankings := Rank(insts, baseline, final)
	for i := 1; i < len(rankings); i++ {
		if rankings[i-1].ChangePct < rankings[i].ChangePct {
			t.Fatalf("rank %d (%v) below rank %d (%v)", i, rankings[i-1].ChangePct, i+1, rankings[i].ChangePct)
		}
	}
}

func TestRankZeroBaselineLast(t *testing.T) {
	baseline := map[string]float64{"a": 0, "b": 50, "c": 10, "d": 1}
	final := map[string]float64{"a": 100, "b": 49, "c": 10.5, "d": 1.1}

	rankings := Rank(abcd, baseline, final)
	if got, want := rankedIDs(rankings), []string{"d", "c", "b", "a"}; !equalIDs(got, want) {
		t.Fatalf("ranking = %v, want %v", got, want)
	}
	last := rankings[len(rankings)-1]
	if !last.Unavailable {
		t.Error("zero-baseline instrument should be unavailable")
	}
	if math.IsNaN(last.ChangePct) || math.IsInf(last.ChangePct, 0) {
		t.Errorf("ChangePct = %v, want finite", last.ChangePct)
	}
	if got := Evaluate(rankings, "a", TopN(4)); got != domain.OutcomeLoss {
		t.Errorf("unavailable pick outcome = %s, want loss", got)
	}
}

func TestEvaluateTopN(t *testing.T) {
	baseline := map[string]float64{"a": 100, "b": 50, "c": 10, "d": 1}
	final := map[string]float64{"a": 101, "b": 49, "c": 10.5, "d": 1.1}
	rankings := Rank(abcd, baseline, final)

	tests := []struct {
		selection string
		n         int
		want      domain.Outcome
	}{
		{"d", 3, domain.OutcomeWin},
		{"c", 3, domain.OutcomeWin},
		{"a", 3, domain.OutcomeWin},
		{"b", 3, domain.OutcomeLoss},
		{"c", 1, domain.OutcomeLoss},
		{"c", 0, domain.OutcomeLoss},
		{"", 3, domain.OutcomeNoPick},
		{"zzz", 3, domain.OutcomeLoss},
	}
	for _, tt := range tests {
		if got := Evaluate(rankings, tt.selection, TopN(tt.n)); got != tt.want {
			t.Errorf("Evaluate(%q, top %d) = %s, want %s", tt.selection, tt.n, got, tt.want)
		}
	}
}

func TestParseWinPolicy(t *testing.T) {
	if p, err := ParseWinPolicy("winner_take_all", 5); err != nil || p.cutoff() != 1 {
		t.Errorf("winner_take_all = %+v, %v", p, err)
	}
	if p, err := ParseWinPolicy("top_n", 3); err != nil || p.cutoff() != 3 {
		t.Errorf("top_n = %+v, %v", p, err)
	}
	if _, err := ParseWinPolicy("top_n", 0); err == nil {
		t.Error("top_n 0 should fail")
	}
	if _, err := ParseWinPolicy("closest", 1); err == nil {
		t.Error("unknown policy should fail")
	}
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{67234.5, "$67234.50"},
		{1, "$1.00"},
		{0.5, "$0.5000"},
		{0.01, "$0.0100"},
		{0.00123, "$0.001230"},
		{0.0000231, "$0.00002310"},
	}
	for _, tt := range tests {
		if got := FormatPrice(tt.in); got != tt.want {
			t.Errorf("FormatPrice(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := FormatChange(1.25); got != "+1.2500%" {
		t.Errorf("FormatChange(1.25) = %q", got)
	}
	if got := FormatChange(-2); got != "-2.0000%" {
		t.Errorf("FormatChange(-2) = %q", got)
	}
}
