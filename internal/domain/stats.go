package domain

import (
	"encoding/json"
	"math"
)

// Stats is the cumulative record for one player. All fields are non-negative.
type Stats struct {
	Wins       int `json:"wins"`
	Losses     int `json:"losses"`
	Streak     int `json:"streak"`
	BestStreak int `json:"bestStreak"`
}

// Apply returns the stats after a round with outcome o. NoPick leaves s
// unchanged.
func (s Stats) Apply(o Outcome) Stats {
	switch o {
	case OutcomeWin:
		s.Wins++
		s.Streak++
		if s.Streak > s.BestStreak {
			s.BestStreak = s.Streak
		}
	case OutcomeLoss:
		s.Losses++
		s.Streak = 0
	}
	return s
}

// GamesPlayed counts rounds that ended with a pick.
func (s Stats) GamesPlayed() int {
	return s.Wins + s.Losses
}

// WinRate is the percentage of played games won, 0 when none were played.
func (s Stats) WinRate() float64 {
	games := s.GamesPlayed()
	if games == 0 {
		return 0
	}
	return float64(s.Wins) / float64(games) * 100
}

// Summary is Stats plus the derived figures shown on the leaderboard screen.
type Summary struct {
	Stats
	GamesPlayed int     `json:"gamesPlayed"`
	WinRate     float64 `json:"winRate"`
}

// Summary returns s with derived figures; WinRate is rounded to one decimal.
func (s Stats) Summary() Summary {
	return Summary{
		Stats:       s,
		GamesPlayed: s.GamesPlayed(),
		WinRate:     math.Round(s.WinRate()*10) / 10,
	}
}

// EncodeStats serialises s into the persisted blob format.
func EncodeStats(s Stats) []byte {
	b, _ := json.Marshal(s)
	return b
}

// DecodeStats parses a persisted blob. It never fails: malformed input yields
// zero Stats and each absent, unparsable or negative field defaults to 0.
func DecodeStats(b []byte) Stats {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return Stats{}
	}
	return Stats{
		Wins:       decodeCount(raw["wins"]),
		Losses:     decodeCount(raw["losses"]),
		Streak:     decodeCount(raw["streak"]),
		BestStreak: decodeCount(raw["bestStreak"]),
	}
}

func decodeCount(v json.RawMessage) int {
	if len(v) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > math.MaxInt32 {
		return 0
	}
	return int(f)
}
