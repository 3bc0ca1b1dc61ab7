package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/fleet-trip-api/internal/models"
)

const editRequestColumns = `id, trip_id, ma_chuyen, channel, requested_by, requested_by_name, changes, reason, status,
       reject_note, changed_fields, processed_by, processed_by_name, processed_at, created_at`

// EditRequestRepository persists trip edit requests.
type EditRequestRepository struct {
	db *sqlx.DB
}

// NewEditRequestRepository constructs the repository.
func NewEditRequestRepository(db *sqlx.DB) *EditRequestRepository {
	return &EditRequestRepository{db: db}
}

// Create inserts a new pending request.
func (r *EditRequestRepository) Create(ctx context.Context, req *models.EditRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.EditRequestPending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO trip_edit_requests (` + editRequestColumns + `)
	VALUES (:id, :trip_id, :ma_chuyen, :channel, :requested_by, :requested_by_name, :changes, :reason, :status,
	:reject_note, :changed_fields, :processed_by, :processed_by_name, :processed_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create edit request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *EditRequestRepository) GetByID(ctx context.Context, id string) (*models.EditRequest, error) {
	query := `SELECT ` + editRequestColumns + ` FROM trip_edit_requests WHERE id = $1`
	var req models.EditRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, noRowsOnMalformedKey(err)
	}
	return &req, nil
}

// GetForUpdateTx loads and row-locks a request inside a transaction.
func (r *EditRequestRepository) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.EditRequest, error) {
	query := `SELECT ` + editRequestColumns + ` FROM trip_edit_requests WHERE id = $1 FOR UPDATE`
	var req models.EditRequest
	if err := tx.GetContext(ctx, &req, query, id); err != nil {
		return nil, noRowsOnMalformedKey(err)
	}
	return &req, nil
}

// ProcessEditRequestParams groups the columns written when a request is decided.
type ProcessEditRequestParams struct {
	ID              string
	Status          models.EditRequestStatus
	RejectNote      *string
	ChangedFields   models.FieldChanges
	ProcessedBy     string
	ProcessedByName string
	ProcessedAt     time.Time
}

// MarkProcessedTx records the decision, only if the request is still pending.
func (r *EditRequestRepository) MarkProcessedTx(ctx context.Context, tx *sqlx.Tx, params ProcessEditRequestParams) error {
	query := fmt.Sprintf(`UPDATE trip_edit_requests SET status = :status, reject_note = :reject_note, changed_fields = :changed_fields,
	processed_by = :processed_by, processed_by_name = :processed_by_name, processed_at = :processed_at
	WHERE id = :id AND status = '%s'`, models.EditRequestPending)
	result, err := tx.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                params.ID,
		"status":            params.Status,
		"reject_note":       params.RejectNote,
		"changed_fields":    params.ChangedFields,
		"processed_by":      params.ProcessedBy,
		"processed_by_name": params.ProcessedByName,
		"processed_at":      params.ProcessedAt,
	})
	if err != nil {
		return fmt.Errorf("update edit request status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check edit request update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeletePending removes a request that has not been processed yet.
func (r *EditRequestRepository) DeletePending(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM trip_edit_requests WHERE id = $1 AND status = '%s'`, models.EditRequestPending)
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		if isMalformedKey(err) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("delete edit request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check edit request delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns requests with pending ones first, then newest first.
func (r *EditRequestRepository) List(ctx context.Context, filter models.EditRequestFilter) ([]models.EditRequest, int, error) {
	args := make([]interface{}, 0, 6)
	conditions := []string{"1=1"}

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Channel != "" {
		args = append(args, filter.Channel)
		conditions = append(conditions, fmt.Sprintf("channel = $%d", len(args)))
	}
	if filter.TripID != "" {
		args = append(args, filter.TripID)
		conditions = append(conditions, fmt.Sprintf("trip_id = $%d", len(args)))
	}
	if filter.MaChuyen != "" {
		args = append(args, "%"+escapeLike(filter.MaChuyen)+"%")
		conditions = append(conditions, fmt.Sprintf("ma_chuyen ILIKE $%d", len(args)))
	}
	if filter.RequestedBy != "" {
		args = append(args, filter.RequestedBy)
		conditions = append(conditions, fmt.Sprintf("requested_by = $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}

	query := fmt.Sprintf(`SELECT %s FROM trip_edit_requests WHERE %s
	ORDER BY (status = '%s') DESC, created_at DESC LIMIT %d OFFSET %d`,
		editRequestColumns, where, models.EditRequestPending, limit, (page-1)*limit)
	var requests []models.EditRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		if filter.TripID != "" && isMalformedKey(err) {
			return []models.EditRequest{}, 0, nil
		}
		return nil, 0, fmt.Errorf("list edit requests: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM trip_edit_requests WHERE "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count edit requests: %w", err)
	}
	return requests, total, nil
}
