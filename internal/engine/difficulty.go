package engine

import (
	"context"
	"fmt"

	"github.com/quizarena/internal/domain"
)

// topTier is the highest difficulty tier in the question bank.
const topTier = 4

// baseTier maps the stronger player's rating to the base difficulty tier.
func baseTier(maxRating int) int {
	switch {
	case maxRating >= 1200:
		return 4
	case maxRating >= 800:
		return 3
	case maxRating >= 400:
		return 2
	default:
		return 1
	}
}

// tierBatch is one sampling request against the content store.
type tierBatch struct {
	tier  int
	count int
}

// composition converts a uniform roll in [0,1) into the weighted
// question-set composition. When the base tier is already the top tier
// the split branches draw from (top-1, top) instead of (base, base+1),
// and the rare branch adds a two-question bonus batch from the top tier.
func composition(roll float64, base int) []tierBatch {
	switch {
	case roll < 0.02:
		batches := []tierBatch{{tier: base, count: 5}}
		if base == topTier {
			batches = append(batches, tierBatch{tier: topTier, count: 2})
		}
		return batches
	case roll < 0.30:
		if base == topTier {
			return []tierBatch{{tier: topTier - 1, count: 3}, {tier: topTier, count: 2}}
		}
		return []tierBatch{{tier: base, count: 3}, {tier: base + 1, count: 2}}
	case roll < 0.50:
		if base == topTier {
			return []tierBatch{{tier: topTier - 1, count: 4}, {tier: topTier, count: 1}}
		}
		return []tierBatch{{tier: base, count: 4}, {tier: base + 1, count: 1}}
	default:
		return []tierBatch{{tier: base, count: 5}}
	}
}

// mergeBatches collapses batches sharing a tier into one sampling call,
// so duplicates cannot slip in between two draws from the same pool.
func mergeBatches(batches []tierBatch) []tierBatch {
	merged := batches[:0:0]
	for _, b := range batches {
		found := false
		for i := range merged {
			if merged[i].tier == b.tier {
				merged[i].count += b.count
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, b)
		}
	}
	return merged
}

// drawQuestions builds a session's question set: pick the composition,
// sample each tier pool without duplicates, shuffle the combined list.
// Fails only when the draw produced no questions at all.
func (e *Engine) drawQuestions(ctx context.Context, topic string, maxRating int) ([]domain.Question, error) {
	base := baseTier(maxRating)
	batches := mergeBatches(composition(e.rng.Float64(), base))

	sampleCtx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	var questions []domain.Question
	for _, b := range batches {
		items, err := e.content.SampleQuestions(sampleCtx, topic, b.tier, b.count)
		if err != nil {
			return nil, fmt.Errorf("sampling tier %d: %w", b.tier, err)
		}
		questions = append(questions, items...)
	}

	if len(questions) == 0 {
		return nil, domain.ErrPairingAborted
	}

	e.rng.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})
	return questions, nil
}
