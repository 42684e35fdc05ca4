package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/coinpick/internal/domain"
)

type fakeGame struct {
	snap      domain.RoundSnapshot
	startTF   int
	startErr  error
	selected  string
	cancelled bool
	history   []domain.RoundReport
}

func (f *fakeGame) StartRound(_ context.Context, tf int, _ []string) (domain.RoundSnapshot, error) {
	f.startTF = tf
	return f.snap, f.startErr
}

func (f *fakeGame) Select(_ context.Context, id string) (string, error) {
	f.selected = id
	return id, nil
}

func (f *fakeGame) Cancel(context.Context) error {
	f.cancelled = true
	return nil
}

func (f *fakeGame) Snapshot() domain.RoundSnapshot { return f.snap }

func (f *fakeGame) Stats() domain.Summary {
	return domain.Stats{Wins: 1, Losses: 1, Streak: 0, BestStreak: 1}.Summary()
}

func (f *fakeGame) History(context.Context, int) ([]domain.RoundReport, error) {
	return f.history, nil
}

func (f *fakeGame) Catalog() []domain.Instrument {
	return []domain.Instrument{{ID: "bitcoin", Symbol: "BTC"}, {ID: "dogwifcoin", Symbol: "WIF"}}
}

func (f *fakeGame) TimeframeOptions() []int { return []int{1, 5, 15} }

func TestRunConsoleCommands(t *testing.T) {
	g := &fakeGame{}
	var out bytes.Buffer
	in := strings.NewReader("start 5\npick wif\ncancel\nstats\nbogus\nquit\nstart 1\n")

	err := runConsole(context.Background(), g, newConsole(&out), in)
	if !errors.Is(err, errQuit) {
		t.Fatalf("err = %v, want errQuit", err)
	}
	if g.startTF != 5 {
		t.Errorf("timeframe = %d, want 5 (commands after quit must not run)", g.startTF)
	}
	if g.selected != "dogwifcoin" {
		t.Errorf("selected = %q", g.selected)
	}
	if !g.cancelled {
		t.Error("cancel not forwarded")
	}
	for _, want := range []string{"options: 1, 5, 15", "1W 1L over 2 games", `unknown command "bogus"`} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunConsoleEOFQuits(t *testing.T) {
	err := runConsole(context.Background(), &fakeGame{}, newConsole(&bytes.Buffer{}), strings.NewReader(""))
	if !errors.Is(err, errQuit) {
		t.Errorf("err = %v, want errQuit", err)
	}
}

func TestRunCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
		g    *fakeGame
		want string
	}{
		{"baseline failure", "start", &fakeGame{startErr: fmt.Errorf("x: %w", domain.ErrBaselineFetchFailed)}, "run start again"},
		{"bad minutes", "start five", &fakeGame{}, "must be a number"},
		{"unknown pick", "pick DOGE", &fakeGame{}, `unknown instrument "DOGE"`},
		{"empty history", "history", &fakeGame{}, "No finished rounds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := runCommand(context.Background(), tt.g, newConsole(&out), tt.line); err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("output %q missing %q", out.String(), tt.want)
			}
		})
	}
}

func TestConsoleRendersEvents(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(&out)
	ctx := context.Background()
	insts := []domain.Instrument{{ID: "bitcoin", Symbol: "BTC"}, {ID: "bonk", Symbol: "BONK"}}

	c.HandleEvent(ctx, domain.Event{Type: domain.EventRoundStarted, Payload: domain.RoundStartedPayload{
		Instruments:      insts,
		Baseline:         map[string]float64{"bitcoin": 67000, "bonk": 0.0000231},
		TimeframeMinutes: 1,
	}})
	c.HandleEvent(ctx, domain.Event{Type: domain.EventPriceTick, Payload: domain.PriceTickPayload{ID: "bonk", Price: 0.0000242, ChangePct: 4.7619}})
	c.HandleEvent(ctx, domain.Event{Type: domain.EventCountdownTick, Payload: domain.CountdownTickPayload{RemainingSeconds: 59}})
	c.HandleEvent(ctx, domain.Event{Type: domain.EventCountdownTick, Payload: domain.CountdownTickPayload{RemainingSeconds: 30}})
	c.HandleEvent(ctx, domain.Event{Type: domain.EventRoundEnded, Payload: domain.RoundEndedPayload{
		Report: domain.RoundReport{
			Selection: "bonk",
			Winner:    "bonk",
			Outcome:   domain.OutcomeWin,
			EndedAt:   time.Now(),
			Rankings: []domain.Ranking{
				{Instrument: insts[1], Rank: 1, Final: 0.0000242, ChangePct: 4.7619},
				{Instrument: insts[0], Rank: 2, Unavailable: true},
			},
		},
		NewBestStreak: true,
	}})
	c.HandleEvent(ctx, domain.Event{Type: domain.EventStatsChanged, Payload: domain.StatsChangedPayload{
		Stats: domain.Stats{Wins: 1, Streak: 1, BestStreak: 1}.Summary(),
	}})

	got := out.String()
	for _, want := range []string{
		"Round started: 1 min",
		"BONK   $0.00002420",
		"+4.7619%",
		"0:30 remaining",
		"You won! BONK",
		"2. BTC    n/a",
		"New best streak!",
		"(not saved)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "0:59") {
		t.Error("countdown should only print on 30s boundaries and the final seconds")
	}
}
