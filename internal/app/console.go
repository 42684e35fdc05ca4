package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/coinpick/internal/domain"
	"github.com/alanyoungcy/coinpick/internal/game"
)

// errQuit ends play mode without error.
var errQuit = errors.New("quit")

// Game is what the terminal loop drives.
type Game interface {
	StartRound(ctx context.Context, timeframeMinutes int, ids []string) (domain.RoundSnapshot, error)
	Select(ctx context.Context, id string) (string, error)
	Cancel(ctx context.Context) error
	Snapshot() domain.RoundSnapshot
	Stats() domain.Summary
	History(ctx context.Context, limit int) ([]domain.RoundReport, error)
	Catalog() []domain.Instrument
	TimeframeOptions() []int
}

// console renders session events as terminal lines. Writes are serialised
// because events arrive from scheduler goroutines.
type console struct {
	mu      sync.Mutex
	out     io.Writer
	symbols map[string]string
}

func newConsole(out io.Writer) *console {
	return &console{out: out, symbols: map[string]string{}}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) symbol(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.symbols[id]; ok {
		return s
	}
	return id
}

// HandleEvent implements domain.EventSink.
func (c *console) HandleEvent(_ context.Context, ev domain.Event) {
	switch p := ev.Payload.(type) {
	case domain.RoundStartedPayload:
		c.mu.Lock()
		for _, inst := range p.Instruments {
			c.symbols[inst.ID] = inst.Symbol
		}
		c.mu.Unlock()
		var b strings.Builder
		fmt.Fprintf(&b, "Round started: %d min\n", p.TimeframeMinutes)
		for _, inst := range p.Instruments {
			fmt.Fprintf(&b, "  %-6s %-14s", inst.Symbol, game.FormatPrice(p.Baseline[inst.ID]))
			if ch, ok := p.Change24h[inst.ID]; ok {
				fmt.Fprintf(&b, " 24h %s", game.FormatChange(ch))
			}
			b.WriteByte('\n')
		}
		b.WriteString("Pick with: pick <symbol>\n")
		c.printf("%s", b.String())

	case domain.SelectionChangedPayload:
		if p.Selection == "" {
			c.printf("Selection cleared\n")
			return
		}
		c.printf("Selected %s\n", c.symbol(p.Selection))

	case domain.PriceTickPayload:
		c.printf("  %-6s %-14s %s\n", c.symbol(p.ID), game.FormatPrice(p.Price), game.FormatChange(p.ChangePct))

	case domain.CountdownTickPayload:
		if r := p.RemainingSeconds; r > 0 && (r%30 == 0 || r <= 5) {
			c.printf("%s remaining\n", formatRemaining(r))
		}

	case domain.RoundEndedPayload:
		c.printf("%s", renderReport(p.Report, c.symbol))
		if p.NewBestStreak {
			c.printf("New best streak!\n")
		}

	case domain.StatsChangedPayload:
		s := p.Stats
		c.printf("Stats: %dW %dL, streak %d, best %d, win rate %.1f%%", s.Wins, s.Losses, s.Streak, s.BestStreak, s.WinRate)
		if !p.Persisted {
			c.printf(" (not saved)")
		}
		c.printf("\n")

	default:
		if ev.Type == domain.EventRoundCancelled {
			c.printf("Round cancelled\n")
		}
	}
}

func formatRemaining(sec int) string {
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}

func renderReport(r domain.RoundReport, symbol func(string) string) string {
	var b strings.Builder
	switch r.Outcome {
	case domain.OutcomeWin:
		fmt.Fprintf(&b, "You won! %s finished in the money\n", symbol(r.Selection))
	case domain.OutcomeLoss:
		fmt.Fprintf(&b, "You lost. %s beat %s\n", symbol(r.Winner), symbol(r.Selection))
	default:
		fmt.Fprintf(&b, "No pick. Winner: %s\n", symbol(r.Winner))
	}
	for _, rk := range r.Rankings {
		if rk.Unavailable {
			fmt.Fprintf(&b, "  %d. %-6s n/a\n", rk.Rank, rk.Instrument.Symbol)
			continue
		}
		fmt.Fprintf(&b, "  %d. %-6s %s (%s)\n", rk.Rank, rk.Instrument.Symbol, game.FormatChange(rk.ChangePct), game.FormatPrice(rk.Final))
	}
	if r.FinalFetchFailed {
		b.WriteString("  final prices unavailable, last polled prices used\n")
	}
	return b.String()
}

const helpText = `Commands:
  start [minutes]   start a round (options: %s)
  pick <symbol>     toggle your pick
  cancel            abandon the running round
  status            show the current round
  stats             show your stats
  history [n]       show recent rounds
  quit              exit
`

// runConsole reads commands from in until EOF, quit or ctx cancellation.
func runConsole(ctx context.Context, g Game, c *console, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
		scanErr <- sc.Err()
	}()

	c.printf(helpText, joinInts(g.TimeframeOptions()))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			if err != nil {
				return fmt.Errorf("app: read input: %w", err)
			}
			return errQuit
		case line := <-lines:
			if err := runCommand(ctx, g, c, line); err != nil {
				return err
			}
		}
	}
}

// runCommand executes one input line. Only errQuit is returned; command
// failures are printed.
func runCommand(ctx context.Context, g Game, c *console, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	args := fields[1:]

	switch strings.ToLower(fields[0]) {
	case "quit", "exit", "q":
		return errQuit

	case "help", "?":
		c.printf(helpText, joinInts(g.TimeframeOptions()))

	case "start":
		tf := 0
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				c.printf("minutes must be a number\n")
				return nil
			}
			tf = n
		}
		if _, err := g.StartRound(ctx, tf, nil); err != nil {
			if errors.Is(err, domain.ErrBaselineFetchFailed) {
				c.printf("Could not fetch starting prices; run start again to retry\n")
				return nil
			}
			c.printf("start failed: %v\n", err)
		}

	case "pick":
		if len(args) == 0 {
			c.printf("usage: pick <symbol>\n")
			return nil
		}
		id, ok := resolveInstrument(g, args[0])
		if !ok {
			c.printf("unknown instrument %q\n", args[0])
			return nil
		}
		if _, err := g.Select(ctx, id); err != nil {
			c.printf("pick failed: %v\n", err)
		}

	case "cancel":
		if err := g.Cancel(ctx); err != nil {
			c.printf("cancel failed: %v\n", err)
		}

	case "status":
		c.printf("%s", renderSnapshot(g.Snapshot()))

	case "stats":
		s := g.Stats()
		c.printf("%dW %dL over %d games, streak %d, best %d, win rate %.1f%%\n",
			s.Wins, s.Losses, s.GamesPlayed, s.Streak, s.BestStreak, s.WinRate)

	case "history":
		limit := 5
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
				limit = n
			}
		}
		reports, err := g.History(ctx, limit)
		if err != nil {
			c.printf("history failed: %v\n", err)
			return nil
		}
		if len(reports) == 0 {
			c.printf("No finished rounds yet\n")
		}
		for _, r := range reports {
			c.printf("%s  %2d min  %-7s winner %s\n",
				r.EndedAt.Local().Format("2006-01-02 15:04"), r.TimeframeMinutes, r.Outcome, symbolIn(r.Instruments, r.Winner))
		}

	default:
		c.printf("unknown command %q, type help\n", fields[0])
	}
	return nil
}

// resolveInstrument maps a symbol or id to an instrument id, preferring the
// instruments of the current round.
func resolveInstrument(g Game, arg string) (string, bool) {
	for _, set := range [][]domain.Instrument{g.Snapshot().Instruments, g.Catalog()} {
		for _, inst := range set {
			if strings.EqualFold(inst.Symbol, arg) || inst.ID == arg {
				return inst.ID, true
			}
		}
	}
	return "", false
}

func symbolIn(insts []domain.Instrument, id string) string {
	for _, inst := range insts {
		if inst.ID == id {
			return inst.Symbol
		}
	}
	return id
}

func renderSnapshot(s domain.RoundSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %s", s.Status)
	if s.Status == domain.RoundActive {
		fmt.Fprintf(&b, ", %s remaining", formatRemaining(s.RemainingSeconds))
	}
	b.WriteByte('\n')
	for _, inst := range s.Instruments {
		mark := " "
		if inst.ID == s.Selection {
			mark = "*"
		}
		fmt.Fprintf(&b, " %s %-6s", mark, inst.Symbol)
		if base, ok := s.Baseline[inst.ID]; ok {
			last := s.Latest[inst.ID]
			fmt.Fprintf(&b, " %-14s", game.FormatPrice(last))
			if pct, err := game.ChangePct(base, last); err == nil {
				b.WriteString(" " + game.FormatChange(pct))
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ", ")
}
