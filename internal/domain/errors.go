package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable covers network failures, malformed price data and
	// rate-limit exhaustion. It skips a poll or refuses a round start.
	ErrSourceUnavailable = errors.New("price source unavailable")
	// ErrBaselineFetchFailed is returned when a round cannot capture a baseline
	// for every instrument. It matches ErrSourceUnavailable under errors.Is.
	ErrBaselineFetchFailed = fmt.Errorf("baseline fetch failed: %w", ErrSourceUnavailable)
	// ErrPersistenceUnavailable means the stats medium rejected a write. The
	// in-memory value stays authoritative.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")

	ErrNotFound          = errors.New("not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrLockHeld          = errors.New("lock already held")
	ErrRoundInProgress   = errors.New("round already in progress")
	ErrNoActiveRound     = errors.New("no active round")
	ErrRoundEnded        = errors.New("round has ended")
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrInvalidTimeframe  = errors.New("invalid timeframe")

	// ErrInvalidInstrumentSet rejects an explicit instrument list whose size
	// differs from the round size.
	ErrInvalidInstrumentSet = errors.New("invalid instrument set")
)
