package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/fleet-trip-api/internal/models"
)

const historyColumns = `id, trip_id, ma_chuyen, source, request_id, requested_by, requested_by_name,
       approved_by, approved_by_name, reason, previous_data, new_data, changed_fields, created_at`

// HistoryRepository persists the append-only trip edit ledger.
type HistoryRepository struct {
	db *sqlx.DB
}

// NewHistoryRepository constructs the repository.
func NewHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// CreateTx appends a history entry inside the edit transaction.
func (r *HistoryRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, entry *models.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO trip_histories (` + historyColumns + `)
	VALUES (:id, :trip_id, :ma_chuyen, :source, :request_id, :requested_by, :requested_by_name,
	:approved_by, :approved_by_name, :reason, :previous_data, :new_data, :changed_fields, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("create trip history: %w", err)
	}
	return nil
}

// ListByTrip returns the ledger of one trip, newest first.
func (r *HistoryRepository) ListByTrip(ctx context.Context, tripID string) ([]models.HistoryEntry, error) {
	query := `SELECT ` + historyColumns + ` FROM trip_histories WHERE trip_id = $1 ORDER BY created_at DESC`
	var entries []models.HistoryEntry
	if err := r.db.SelectContext(ctx, &entries, query, tripID); err != nil {
		return nil, fmt.Errorf("list trip history: %w", err)
	}
	return entries, nil
}

// CountByTrip counts ledger entries of one trip.
func (r *HistoryRepository) CountByTrip(ctx context.Context, tripID string) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM trip_histories WHERE trip_id = $1`, tripID); err != nil {
		return 0, fmt.Errorf("count trip history: %w", err)
	}
	return total, nil
}

// DeleteOlderThan drops entries created before the cutoff.
func (r *HistoryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM trip_histories WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old trip history: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check deleted trip history: %w", err)
	}
	return rows, nil
}
