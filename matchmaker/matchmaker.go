// Package matchmaker selects which bots play which games each Scheduler
// pass, per spec.md §4.F.
package matchmaker

import (
	"context"
	"math/rand"

	"lineup"
	"lineup/db"
)

// Matchmaker wraps the read queries db.BotsWithNotEnoughGames and
// db.BotsByParticipationDesc and runs spec.md §4.F's selection algorithm
// over their results.
type Matchmaker struct {
	DB *db.DB

	MinGamesPerVersion int
	MaxGamesToSchedule int
	MaxBotsToSchedule  int
}

// New returns a Matchmaker with the given scheduling parameters.
func New(d *db.DB, minGamesPerVersion, maxGamesToSchedule, maxBotsToSchedule int) *Matchmaker {
	return &Matchmaker{
		DB:                 d,
		MinGamesPerVersion: minGamesPerVersion,
		MaxGamesToSchedule: maxGamesToSchedule,
		MaxBotsToSchedule:  maxBotsToSchedule,
	}
}

// Pair is one proposed match; Blue moves first.
type Pair struct {
	Blue lineup.Bot
	Red  lineup.Bot
}

// Pairs runs the full selection pass: gather under-played bots, extend the
// opponent pool if it's too thin, shuffle both, then sample
// MinGamesPerVersion opponents per under-played bot with replacement. Every
// returned Pair satisfies Blue.Id != Red.Id — violating that is a bug in
// the selection below, not a possible outcome, so it is asserted with a
// panic rather than returned as an error.
func (m *Matchmaker) Pairs(ctx context.Context) ([]Pair, error) {
	toRun, err := m.DB.BotsWithNotEnoughGames(ctx, m.MinGamesPerVersion)
	if err != nil {
		return nil, err
	}
	if len(toRun) > m.MaxBotsToSchedule {
		toRun = toRun[:m.MaxBotsToSchedule]
	}
	if len(toRun) == 0 {
		return nil, nil
	}

	toMatch := make([]lineup.Bot, len(toRun))
	copy(toMatch, toRun)

	if len(toMatch) < m.MinGamesPerVersion {
		extra, err := m.DB.BotsByParticipationDesc(ctx)
		if err != nil {
			return nil, err
		}
		present := make(map[int64]bool, len(toMatch))
		for _, b := range toMatch {
			present[b.Id] = true
		}
		for _, b := range extra {
			if len(toMatch) >= m.MinGamesPerVersion {
				break
			}
			if present[b.Id] {
				continue
			}
			toMatch = append(toMatch, b)
			present[b.Id] = true
		}
	}

	rand.Shuffle(len(toRun), func(i, j int) { toRun[i], toRun[j] = toRun[j], toRun[i] })
	rand.Shuffle(len(toMatch), func(i, j int) { toMatch[i], toMatch[j] = toMatch[j], toMatch[i] })

	var pairs []Pair
	for _, bot := range toRun {
		if m.MaxGamesToSchedule > 0 && len(pairs) >= m.MaxGamesToSchedule {
			break
		}

		opponents := withoutBot(toMatch, bot.Id)
		if len(opponents) == 0 {
			continue // the only eligible bot is itself; nothing to pair it with
		}

		for i := 0; i < m.MinGamesPerVersion; i++ {
			if m.MaxGamesToSchedule > 0 && len(pairs) >= m.MaxGamesToSchedule {
				break
			}
			opp := opponents[rand.Intn(len(opponents))]
			if bot.Id == opp.Id {
				panic("matchmaker: self-match sampled")
			}
			pairs = append(pairs, Pair{Blue: bot, Red: opp})
		}
	}
	return pairs, nil
}

func withoutBot(bots []lineup.Bot, excludeID int64) []lineup.Bot {
	pool := make([]lineup.Bot, 0, len(bots))
	for _, b := range bots {
		if b.Id != excludeID {
			pool = append(pool, b)
		}
	}
	return pool
}
