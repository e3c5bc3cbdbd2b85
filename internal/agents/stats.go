package agents

import (
	"github.com/talgya/conclave/internal/config"
	"github.com/talgya/conclave/internal/entropy"
)

// Stats are the agent's core attributes, each clamped to [0, 100].
type Stats struct {
	Health    int `json:"health"`
	Influence int `json:"influence"`
	Piety     int `json:"piety"`
}

const (
	statMin = 0
	statMax = 100
)

func clampStat(v int) int {
	if v < statMin {
		return statMin
	}
	if v > statMax {
		return statMax
	}
	return v
}

// InitialStats returns the starting attributes from balance.
func InitialStats(b config.Balance) Stats {
	return Stats{
		Health:    clampStat(b.InitialHealth),
		Influence: clampStat(b.InitialInfluence),
		Piety:     clampStat(b.InitialPiety),
	}
}

// ChangeHealth adds delta to health.
func (s *Stats) ChangeHealth(delta int) { s.Health = clampStat(s.Health + delta) }

// ChangeInfluence adds delta to influence.
func (s *Stats) ChangeInfluence(delta int) { s.Influence = clampStat(s.Influence + delta) }

// ChangePiety adds delta to piety.
func (s *Stats) ChangePiety(delta int) { s.Piety = clampStat(s.Piety + delta) }

// ActionResult records the outcome of a prayer or speech.
type ActionResult struct {
	Success bool  `json:"success"`
	Before  Stats `json:"before"`
	After   Stats `json:"after"`
}

// PerformPrayer rolls the prayer and applies its piety and health deltas.
func PerformPrayer(s *Stats, b config.Balance, rng *entropy.Rand) ActionResult {
	res := ActionResult{Before: *s}
	if rng.Chance(b.PraySuccessChance) {
		res.Success = true
		s.ChangePiety(b.PraySuccessPiety)
		s.ChangeHealth(b.PraySuccessHealth)
	} else {
		s.ChangePiety(b.PrayFailPiety)
		s.ChangeHealth(b.PrayFailHealth)
	}
	res.After = *s
	return res
}

// PerformSpeech rolls the speech. Success gains a random influence amount in
// [SpeechInfluenceMin, SpeechInfluenceMax].
func PerformSpeech(s *Stats, b config.Balance, rng *entropy.Rand) ActionResult {
	res := ActionResult{Before: *s}
	if rng.Chance(b.SpeechSuccessChance) {
		res.Success = true
		s.ChangeInfluence(rng.IntRange(b.SpeechInfluenceMin, b.SpeechInfluenceMax))
		s.ChangeHealth(b.SpeechSuccessHealth)
	} else {
		s.ChangeInfluence(b.SpeechFailInfluence)
		s.ChangeHealth(b.SpeechFailHealth)
	}
	res.After = *s
	return res
}

// Perform applies the action named by a station.
func Perform(action config.Action, s *Stats, b config.Balance, rng *entropy.Rand) ActionResult {
	if action == config.ActionSpeech {
		return PerformSpeech(s, b, rng)
	}
	return PerformPrayer(s, b, rng)
}
