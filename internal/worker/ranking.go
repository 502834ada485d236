package worker

import (
	"time"

	"github.com/rank-tracker/internal/matcher"
	"github.com/rank-tracker/internal/models"
	"github.com/rank-tracker/internal/types"
)

// applyRanking folds one fetched result set into a keyword's position state.
// previous_position always records the prior ranking_position, first_position
// is written once, and best_position only ever improves. A nil newPosition
// (domain not found) still shifts previous_position and clears the current
// one.
func applyRanking(keyword *models.Keyword, newPosition *int, foundURL string, checkedAt time.Time) {
	keyword.PreviousPosition = keyword.RankingPosition
	keyword.RankingPosition = newPosition
	keyword.FoundURL = foundURL

	if newPosition != nil {
		if keyword.FirstPosition == nil {
			first := *newPosition
			keyword.FirstPosition = &first
		}
		if keyword.BestPosition == nil || *newPosition < *keyword.BestPosition {
			best := *newPosition
			keyword.BestPosition = &best
		}
	}

	keyword.LastCheckedAt = &checkedAt
}

// applyCompetitorRankings folds one fetched result set into the per-competitor
// position state, using the same previous/first/best rules as the own domain
func applyCompetitorRankings(keyword *models.Keyword, competitors []string, results []types.SerpResult) {
	if len(competitors) == 0 {
		return
	}
	if keyword.CompetitorRankings == nil {
		keyword.CompetitorRankings = make(map[string]types.CompetitorRanking, len(competitors))
	}

	for _, domain := range competitors {
		position, url := matcher.FindPosition(results, domain)

		ranking := keyword.CompetitorRankings[domain]
		ranking.PreviousPosition = ranking.Position
		ranking.Position = position
		ranking.URL = url

		if position != nil {
			if ranking.FirstPosition == nil {
				first := *position
				ranking.FirstPosition = &first
			}
			if ranking.BestPosition == nil || *position < *ranking.BestPosition {
				best := *position
				ranking.BestPosition = &best
			}
		}

		keyword.CompetitorRankings[domain] = ranking
	}
}
