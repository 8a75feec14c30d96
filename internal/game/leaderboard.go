package game

import (
	"cmp"
	"slices"

	"github.com/victornm/livequiz/internal/domain"
)

func rank(players []domain.Player, limit int) []domain.LeaderboardEntry {
	ps := slices.Clone(players)
	slices.SortStableFunc(ps, func(a, b domain.Player) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})

	if limit > 0 && len(ps) > limit {
		ps = ps[:limit]
	}

	entries := make([]domain.LeaderboardEntry, 0, len(ps))
	for _, p := range ps {
		entries = append(entries, domain.LeaderboardEntry{
			ID:    p.ID,
			Name:  p.Name,
			Score: p.Score,
		})
	}

	return entries
}
