package ordering

import (
	"sort"

	"trustclock/internal/clock"
	"trustclock/internal/envelope"
)

// Frontier returns the causal heads of the accepted history: the maximal
// set of envelopes not dominated by any other accepted envelope's merge
// history. Every other accepted event happened before at least one of
// these. Keys are returned in tie-break order for stable iteration.
func (s *Service) Frontier() []envelope.Key {
	records := s.store.all()
	if len(records) == 0 {
		return nil
	}

	winners := make([]envelope.Key, 0, len(records))
	for i, candidate := range records {
		dominated := false
		for j, other := range records {
			if i == j {
				continue
			}
			if dominatesRecord(other, candidate) {
				dominated = true
				break
			}
		}
		if !dominated {
			winners = append(winners, candidate.Envelope.Key())
		}
	}

	sort.Slice(winners, func(i, j int) bool {
		return TieBreak(winners[i], winners[j]) == clock.Before
	})
	return winners
}

// dominatesRecord reports whether a happened strictly after b: either a's
// merge history dominates b's, or they share a producer and a's counter
// is higher.
func dominatesRecord(a, b *Accepted) bool {
	if a.Envelope.Producer == b.Envelope.Producer {
		return a.Envelope.Counter > b.Envelope.Counter
	}
	return a.History.Dominates(b.History)
}
