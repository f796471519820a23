package portfolio

import (
	"github.com/versofin/verso/internal/models"
)

// dedupTagged removes duplicate portfolio ids from an already-tagged list,
// preferring the owner-tagged entry. The repository's join strategy merges
// through models.MergeByAccess before returning, so duplicates here indicate
// a misbehaving aggregated query: resolved deterministically and logged,
// never raised.
func (s *Service) dedupTagged(portfolios []*models.Portfolio) []*models.Portfolio {
	byID := make(map[string]int, len(portfolios))
	out := portfolios[:0]
	conflicts := 0

	for _, p := range portfolios {
		idx, seen := byID[p.ID]
		if !seen {
			byID[p.ID] = len(out)
			out = append(out, p)
			continue
		}
		conflicts++
		if p.AccessType == models.AccessOwner {
			out[idx] = p
		}
	}

	if conflicts > 0 {
		s.logger.Warn().
			Int("conflicts", conflicts).
			Msg("Duplicate portfolio ids in repository result, kept owner entries")
	}

	return out
}
