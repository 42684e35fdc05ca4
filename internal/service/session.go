package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/coinpick/internal/domain"
	"github.com/alanyoungcy/coinpick/internal/game"
	"github.com/alanyoungcy/coinpick/internal/stats"
)

// recentLimit bounds the in-memory history kept when no RoundStore is set.
const recentLimit = 50

// SessionConfig parameterises rounds. Every game variant is expressed through
// these values.
type SessionConfig struct {
	Player           string
	Catalog          []domain.Instrument
	InstrumentCount  int
	TimeframeOptions []int // minutes
	DefaultTimeframe int   // minutes
	Policy           game.WinPolicy
	TickInterval     time.Duration
	PollInterval     time.Duration
	// LockGrace is added to the round duration for the cross-process lock TTL.
	LockGrace time.Duration
}

// SessionDeps are the collaborators of a Session. Rounds, Locks and Sinks are
// optional.
type SessionDeps struct {
	Source    domain.QuoteSource
	Tracker   *stats.Tracker
	Rounds    domain.RoundStore
	Locks     domain.LockManager
	Scheduler Scheduler
	Sinks     []domain.EventSink
	Logger    *slog.Logger
}

// Session is the single owner of the current round. Every mutation happens
// under mu; scheduler callbacks and fetch completions re-enter through it and
// are discarded when they belong to a round that is no longer current.
// Events are delivered to the sinks after mu is released.
type Session struct {
	cfg     SessionConfig
	source  domain.QuoteSource
	tracker *stats.Tracker
	rounds  domain.RoundStore
	locks   domain.LockManager
	sched   Scheduler
	sinks   []domain.EventSink
	logger  *slog.Logger

	newID   func() string
	shuffle func(n int, swap func(i, j int))
	now     func() time.Time
	run     func(fn func())

	ctx    context.Context
	cancel context.CancelFunc

	// settling counts finish goroutines; Close waits for them before the
	// final flush.
	settling sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	round      *game.Round
	lastResult *domain.RoundReport
	recent     []domain.RoundReport
	starting   bool
	polling    bool
	cancelTick func()
	cancelPoll func()
	unlock     func()
}

// NewSession creates an idle Session.
func NewSession(cfg SessionConfig, deps SessionDeps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	sched := deps.Scheduler
	if sched == nil {
		sched = TickerScheduler{}
	}
	return &Session{
		cfg:     cfg,
		source:  deps.Source,
		tracker: deps.Tracker,
		rounds:  deps.Rounds,
		locks:   deps.Locks,
		sched:   sched,
		sinks:   deps.Sinks,
		logger:  deps.Logger.With(slog.String("component", "session")),
		newID:   uuid.NewString,
		shuffle: rand.Shuffle,
		now:     time.Now,
		run:     func(fn func()) { go fn() },
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Catalog returns the configured instruments.
func (s *Session) Catalog() []domain.Instrument { return slices.Clone(s.cfg.Catalog) }

// Player returns the player the session records stats for.
func (s *Session) Player() string { return s.cfg.Player }

// TimeframeOptions returns the allowed round lengths in minutes.
func (s *Session) TimeframeOptions() []int { return slices.Clone(s.cfg.TimeframeOptions) }

// StartRound draws instruments (or uses ids when given), captures baseline
// prices and starts the countdown. A timeframe of 0 uses the default. Explicit
// ids must name exactly InstrumentCount distinct instruments.
//
// When the baseline fetch fails the error wraps ErrBaselineFetchFailed and
// the round stays Selecting with the same instruments, so calling StartRound
// again with no ids retries them.
func (s *Session) StartRound(ctx context.Context, timeframeMinutes int, ids []string) (domain.RoundSnapshot, error) {
	if timeframeMinutes == 0 {
		timeframeMinutes = s.cfg.DefaultTimeframe
	}
	if !slices.Contains(s.cfg.TimeframeOptions, timeframeMinutes) {
		return domain.RoundSnapshot{}, fmt.Errorf("session: timeframe %d: %w", timeframeMinutes, domain.ErrInvalidTimeframe)
	}

	s.mu.Lock()
	if s.starting || (s.round != nil && s.round.Status() == domain.RoundActive) {
		s.mu.Unlock()
		return domain.RoundSnapshot{}, fmt.Errorf("session: start round: %w", domain.ErrRoundInProgress)
	}
	insts, err := s.pickInstrumentsLocked(ids)
	if err != nil {
		s.mu.Unlock()
		return domain.RoundSnapshot{}, err
	}
	selection := ""
	if s.round != nil && s.round.Status() == domain.RoundSelecting {
		selection = s.round.Selection()
	}
	r := game.NewRound(s.newID(), insts, timeframeMinutes, s.totalTicks(timeframeMinutes))
	if selection != "" {
		_, _ = r.Select(selection)
	}
	s.round = r
	s.starting = true
	s.mu.Unlock()

	unlock, err := s.acquireLock(ctx, timeframeMinutes)
	if err != nil {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
		return domain.RoundSnapshot{}, err
	}

	quotes, fetchErr := s.source.FetchQuotes(ctx, r.IDs())

	s.mu.Lock()
	s.starting = false
	if s.round != r {
		s.mu.Unlock()
		unlock()
		return domain.RoundSnapshot{}, fmt.Errorf("session: start round: %w", domain.ErrNoActiveRound)
	}
	if fetchErr != nil {
		s.mu.Unlock()
		unlock()
		s.logger.WarnContext(ctx, "baseline fetch failed",
			slog.String("round_id", r.ID()),
			slog.String("error", fetchErr.Error()),
		)
		return r.Snapshot(s.cfg.TickInterval), fmt.Errorf("session: %w: %w", domain.ErrBaselineFetchFailed, fetchErr)
	}
	if err := r.Activate(quotes, s.now()); err != nil {
		s.mu.Unlock()
		unlock()
		s.logger.WarnContext(ctx, "baseline incomplete",
			slog.String("round_id", r.ID()),
			slog.String("error", err.Error()),
		)
		return r.Snapshot(s.cfg.TickInterval), fmt.Errorf("session: %w", err)
	}

	s.unlock = unlock
	roundID := r.ID()
	s.cancelTick = s.sched.ScheduleRepeating(s.cfg.TickInterval, func() { s.onTick(roundID) })
	s.cancelPoll = s.sched.ScheduleRepeating(s.cfg.PollInterval, func() { s.onPoll(roundID) })
	snap := s.snapshotLocked()
	ev := s.event(domain.EventRoundStarted, roundID, r.StartedPayload(s.cfg.TickInterval))
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "round started",
		slog.String("round_id", roundID),
		slog.Int("timeframe_minutes", timeframeMinutes),
		slog.Any("instruments", r.IDs()),
	)
	s.emit(ev)
	return snap, nil
}

// Select applies the toggle policy to the current round and returns the
// selection after the change ("" when cleared).
func (s *Session) Select(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	if s.round == nil || s.round.Status() == domain.RoundEnded {
		s.mu.Unlock()
		return "", fmt.Errorf("session: select: %w", domain.ErrNoActiveRound)
	}
	sel, err := s.round.Select(id)
	if err != nil {
		s.mu.Unlock()
		return sel, fmt.Errorf("session: %w", err)
	}
	ev := s.event(domain.EventSelectionChanged, s.round.ID(), domain.SelectionChangedPayload{Selection: sel})
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "selection changed", slog.String("selection", sel))
	s.emit(ev)
	return sel, nil
}

// Cancel abandons the active round without evaluation. The instruments stay
// on the table in a fresh Selecting round; stats are untouched.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	r := s.round
	if r == nil || r.Status() != domain.RoundActive {
		s.mu.Unlock()
		return fmt.Errorf("session: cancel: %w", domain.ErrNoActiveRound)
	}
	if r.Locked() {
		s.mu.Unlock()
		return fmt.Errorf("session: cancel: %w", domain.ErrRoundEnded)
	}
	s.stopLocked()
	next := game.NewRound(s.newID(), r.Instruments(), r.TimeframeMinutes(), s.totalTicks(r.TimeframeMinutes()))
	if sel := r.Selection(); sel != "" {
		_, _ = next.Select(sel)
	}
	s.round = next
	ev := s.event(domain.EventRoundCancelled, r.ID(), nil)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "round cancelled", slog.String("round_id", r.ID()))
	s.emit(ev)
	return nil
}

// Snapshot returns a copy of the current round for presentation.
func (s *Session) Snapshot() domain.RoundSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// LastResult returns the most recent finished round.
func (s *Session) LastResult() (domain.RoundReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastResult == nil {
		return domain.RoundReport{}, false
	}
	return *s.lastResult, true
}

// Stats returns the player's stats summary.
func (s *Session) Stats() domain.Summary {
	return s.tracker.Stats().Summary()
}

// History returns up to limit finished rounds, newest first. It reads the
// RoundStore when one is configured and the in-memory list otherwise.
func (s *Session) History(ctx context.Context, limit int) ([]domain.RoundReport, error) {
	if s.rounds != nil {
		reports, err := s.rounds.ListRecent(ctx, s.cfg.Player, limit)
		if err != nil {
			return nil, fmt.Errorf("session: history: %w", err)
		}
		return reports, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.recent)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.RoundReport, 0, n)
	for i := len(s.recent) - 1; i >= len(s.recent)-n; i-- {
		out = append(out, s.recent[i])
	}
	return out, nil
}

// Close stops the timers, waits for a round that is already settling,
// releases the round lock and flushes pending stats.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.stopLocked()
	s.mu.Unlock()

	settled := make(chan struct{})
	go func() {
		s.settling.Wait()
		close(settled)
	}()
	select {
	case <-settled:
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "round settlement still running at shutdown")
	}
	s.cancel()

	if err := s.tracker.Flush(ctx); err != nil {
		return fmt.Errorf("session: close: %w", err)
	}
	return nil
}

// onTick advances the countdown of roundID and starts settlement when it
// expires.
func (s *Session) onTick(roundID string) {
	s.mu.Lock()
	r := s.round
	if s.closed || r == nil || r.ID() != roundID || r.Status() != domain.RoundActive || r.Locked() {
		s.mu.Unlock()
		return
	}
	expired := r.Tick()
	ev := s.event(domain.EventCountdownTick, roundID, domain.CountdownTickPayload{
		RemainingSeconds: int((time.Duration(r.Remaining()) * s.cfg.TickInterval).Seconds()),
	})
	if expired {
		s.stopTimersLocked()
		s.settling.Add(1)
	}
	s.mu.Unlock()

	s.emit(ev)
	if expired {
		s.run(func() {
			defer s.settling.Done()
			s.finish(roundID)
		})
	}
}

// onPoll refreshes latest prices for roundID. A poll is skipped while the
// previous one is still in flight.
func (s *Session) onPoll(roundID string) {
	s.mu.Lock()
	r := s.round
	if r == nil || r.ID() != roundID || r.Status() != domain.RoundActive || r.Locked() || s.polling {
		s.mu.Unlock()
		return
	}
	s.polling = true
	ids := r.IDs()
	s.mu.Unlock()

	s.run(func() { s.poll(roundID, ids) })
}

func (s *Session) poll(roundID string, ids []string) {
	prices, err := s.source.FetchPrices(s.ctx, ids)

	s.mu.Lock()
	s.polling = false
	r := s.round
	if r == nil || r.ID() != roundID {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.logger.WarnContext(s.ctx, "price poll failed, keeping previous prices",
			slog.String("round_id", roundID),
			slog.String("error", err.Error()),
		)
		return
	}
	var events []domain.Event
	for _, id := range r.ApplyPrices(prices) {
		price, _ := r.Latest(id)
		pct, err := r.ChangePct(id)
		if err != nil {
			continue
		}
		events = append(events, s.event(domain.EventPriceTick, roundID, domain.PriceTickPayload{
			ID: id, Price: price, ChangePct: pct,
		}))
	}
	s.mu.Unlock()

	s.emit(events...)
}

// finish settles roundID: one best-effort final fetch, evaluation, stats and
// history. It runs at most once per round because only the expiring tick
// schedules it and Finish rejects an ended round.
func (s *Session) finish(roundID string) {
	s.mu.Lock()
	r := s.round
	if r == nil || r.ID() != roundID || !r.Expired() {
		s.mu.Unlock()
		return
	}
	ids := r.IDs()
	s.mu.Unlock()

	final, fetchErr := s.source.FetchPrices(s.ctx, ids)
	if fetchErr != nil {
		s.logger.WarnContext(s.ctx, "final price fetch failed, using last polled prices",
			slog.String("round_id", roundID),
			slog.String("error", fetchErr.Error()),
		)
	}

	s.mu.Lock()
	if s.round != r {
		s.mu.Unlock()
		return
	}
	report, err := r.Finish(final, fetchErr == nil, s.cfg.Policy, s.cfg.Player, s.now())
	if err != nil {
		s.mu.Unlock()
		return
	}
	s.lastResult = &report
	if s.rounds == nil {
		s.recent = append(s.recent, report)
		if len(s.recent) > recentLimit {
			s.recent = slices.Clone(s.recent[len(s.recent)-recentLimit:])
		}
	}
	unlock := s.unlock
	s.unlock = nil
	s.mu.Unlock()

	if unlock != nil {
		unlock()
	}

	prevBest := s.tracker.Stats().BestStreak
	st, saveErr := s.tracker.Record(s.ctx, report.Outcome)

	if s.rounds != nil {
		if err := s.rounds.Insert(s.ctx, report); err != nil {
			s.logger.WarnContext(s.ctx, "record round failed",
				slog.String("round_id", roundID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(s.ctx, "round ended",
		slog.String("round_id", roundID),
		slog.String("outcome", string(report.Outcome)),
		slog.String("selection", report.Selection),
		slog.String("winner", report.Winner),
		slog.Bool("final_fetch_failed", report.FinalFetchFailed),
	)

	events := []domain.Event{s.event(domain.EventRoundEnded, roundID, domain.RoundEndedPayload{
		Report:        report,
		NewBestStreak: st.BestStreak > prevBest,
	})}
	if report.Outcome != domain.OutcomeNoPick {
		events = append(events, s.event(domain.EventStatsChanged, roundID, domain.StatsChangedPayload{
			Stats:     st.Summary(),
			Persisted: saveErr == nil,
		}))
	}
	s.emit(events...)
}

func (s *Session) pickInstrumentsLocked(ids []string) ([]domain.Instrument, error) {
	if len(ids) == 0 {
		if s.round != nil && s.round.Status() == domain.RoundSelecting {
			return s.round.Instruments(), nil
		}
		return s.draw(), nil
	}

	insts := make([]domain.Instrument, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		i := slices.IndexFunc(s.cfg.Catalog, func(in domain.Instrument) bool { return in.ID == id })
		if i < 0 {
			return nil, fmt.Errorf("session: instrument %q: %w", id, domain.ErrUnknownInstrument)
		}
		seen[id] = true
		insts = append(insts, s.cfg.Catalog[i])
	}
	if n := s.roundSize(); len(insts) != n {
		return nil, fmt.Errorf("session: %d distinct instruments, want %d: %w", len(insts), n, domain.ErrInvalidInstrumentSet)
	}
	return insts, nil
}

// draw picks InstrumentCount instruments from the catalog without
// replacement.
func (s *Session) draw() []domain.Instrument {
	pool := slices.Clone(s.cfg.Catalog)
	s.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	return pool[:s.roundSize()]
}

// roundSize is InstrumentCount capped to the catalog.
func (s *Session) roundSize() int {
	n := s.cfg.InstrumentCount
	if n <= 0 || n > len(s.cfg.Catalog) {
		n = len(s.cfg.Catalog)
	}
	return n
}

func (s *Session) totalTicks(timeframeMinutes int) int {
	if s.cfg.TickInterval <= 0 {
		return timeframeMinutes * 60
	}
	n := int(time.Duration(timeframeMinutes) * time.Minute / s.cfg.TickInterval)
	if n < 1 {
		n = 1
	}
	return n
}

func (s *Session) acquireLock(ctx context.Context, timeframeMinutes int) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	ttl := time.Duration(timeframeMinutes)*time.Minute + s.cfg.LockGrace
	unlock, err := s.locks.Acquire(ctx, "round:"+s.cfg.Player, ttl)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("session: round already running for %s: %w", s.cfg.Player, err)
		}
		return nil, fmt.Errorf("session: acquire round lock: %w", err)
	}
	return unlock, nil
}

func (s *Session) stopTimersLocked() {
	if s.cancelTick != nil {
		s.cancelTick()
		s.cancelTick = nil
	}
	if s.cancelPoll != nil {
		s.cancelPoll()
		s.cancelPoll = nil
	}
}

func (s *Session) stopLocked() {
	s.stopTimersLocked()
	if s.unlock != nil {
		s.unlock()
		s.unlock = nil
	}
}

func (s *Session) snapshotLocked() domain.RoundSnapshot {
	var snap domain.RoundSnapshot
	if s.round == nil {
		snap = domain.RoundSnapshot{Status: domain.RoundIdle, Instruments: []domain.Instrument{}}
	} else {
		snap = s.round.Snapshot(s.cfg.TickInterval)
	}
	if s.lastResult != nil {
		last := *s.lastResult
		snap.LastResult = &last
	}
	return snap
}

func (s *Session) event(t domain.EventType, roundID string, payload any) domain.Event {
	return domain.Event{Type: t, RoundID: roundID, Time: s.now(), Payload: payload}
}

func (s *Session) emit(events ...domain.Event) {
	for _, ev := range events {
		for _, sink := range s.sinks {
			sink.HandleEvent(s.ctx, ev)
		}
	}
}
