package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rank-tracker/internal/models"
	"github.com/rank-tracker/internal/types"
)

// HistoryRepository handles ranking history persistence in ClickHouse. Rows
// are append-only: one snapshot per keyword per check event, never updated.
type HistoryRepository struct {
	db *ClickHouseDB
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *ClickHouseDB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// BatchAppend records the snapshots for a processed batch in one insert.
// Position 0 encodes "not found"; readers map it back to nil.
func (r *HistoryRepository) BatchAppend(ctx context.Context, records []*models.RankingHistoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO ranking_history (
			id, keyword_id, class_id, ranking_position, found_url, competitor_rankings, checked_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, record := range records {
		if record.ID == "" {
			record.ID = uuid.New().String()
		}
		if record.CheckedAt.IsZero() {
			record.CheckedAt = time.Now()
		}

		competitorsJSON, err := marshalCompetitors(record.CompetitorRankings)
		if err != nil {
			return fmt.Errorf("failed to marshal competitors for keyword %s: %w", record.KeywordID, err)
		}

		position := 0
		if record.RankingPosition != nil {
			position = *record.RankingPosition
		}

		err = batch.Append(
			record.ID,
			record.KeywordID,
			record.ClassID,
			position,
			record.FoundURL,
			competitorsJSON,
			record.CheckedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to append history record for keyword %s: %w", record.KeywordID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	return nil
}

// ListByKeyword returns snapshots for a keyword in a time range, newest first
func (r *HistoryRepository) ListByKeyword(ctx context.Context, keywordID string, from, to time.Time, limit int) ([]*models.RankingHistoryRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT id, keyword_id, class_id, ranking_position, found_url, competitor_rankings, checked_at
		FROM ranking_history
		WHERE keyword_id = ? AND checked_at >= ? AND checked_at <= ?
		ORDER BY checked_at DESC
		LIMIT ?
	`

	rows, err := r.db.Conn().Query(ctx, query, keywordID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ranking history: %w", err)
	}
	defer rows.Close()

	var records []*models.RankingHistoryRecord
	for rows.Next() {
		var record models.RankingHistoryRecord
		var position int32
		var competitorsJSON string

		err := rows.Scan(
			&record.ID,
			&record.KeywordID,
			&record.ClassID,
			&position,
			&record.FoundURL,
			&competitorsJSON,
			&record.CheckedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}

		if position > 0 {
			p := int(position)
			record.RankingPosition = &p
		}
		if competitorsJSON != "" && competitorsJSON != "{}" {
			if err := json.Unmarshal([]byte(competitorsJSON), &record.CompetitorRankings); err != nil {
				return nil, fmt.Errorf("failed to unmarshal competitors: %w", err)
			}
		}

		records = append(records, &record)
	}

	return records, rows.Err()
}

func marshalCompetitors(rankings map[string]types.CompetitorRanking) (string, error) {
	if len(rankings) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(rankings)
	if err != nil {
		return "", fmt.Errorf("failed to marshal competitor rankings: %w", err)
	}
	return string(data), nil
}
