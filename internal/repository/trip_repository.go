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

const tripColumns = `id, ma_chuyen, ma_kh, ten_kh, dieu_van_id, dieu_van, ten_lai_xe, bien_so_xe,
       ngay_boc_hang, ngay_giao_hang, diem_xep_hang, diem_do_hang,
       cuoc_phi, boc_xep, ve, hang_ve, luu_ca, luat_chi_phi_khac,
       cuoc_phi_bs, boc_xep_bs, ve_bs, hang_ve_bs, luu_ca_bs, cp_khac_bs,
       ghi_chu, warning, is_deleted, deleted_at, deleted_by, created_at, updated_at`

// TripRepository persists trip records.
type TripRepository struct {
	db *sqlx.DB
}

// NewTripRepository constructs the repository.
func NewTripRepository(db *sqlx.DB) *TripRepository {
	return &TripRepository{db: db}
}

// NextCodeTx bumps the per-month counter and returns the allocated sequence number.
func (r *TripRepository) NextCodeTx(ctx context.Context, tx *sqlx.Tx, month int) (int, error) {
	const query = `INSERT INTO trip_code_sequences (month, last_value) VALUES ($1, 1)
	ON CONFLICT (month) DO UPDATE SET last_value = trip_code_sequences.last_value + 1
	RETURNING last_value`
	var seq int
	if err := tx.GetContext(ctx, &seq, query, month); err != nil {
		return 0, fmt.Errorf("allocate trip code: %w", err)
	}
	return seq, nil
}

// CreateTx inserts a trip inside an open transaction.
func (r *TripRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, trip *models.Trip) error {
	if trip.ID == "" {
		trip.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if trip.CreatedAt.IsZero() {
		trip.CreatedAt = now
	}
	trip.UpdatedAt = now
	const query = `INSERT INTO trips (` + tripColumns + `)
	VALUES (:id, :ma_chuyen, :ma_kh, :ten_kh, :dieu_van_id, :dieu_van, :ten_lai_xe, :bien_so_xe,
	:ngay_boc_hang, :ngay_giao_hang, :diem_xep_hang, :diem_do_hang,
	:cuoc_phi, :boc_xep, :ve, :hang_ve, :luu_ca, :luat_chi_phi_khac,
	:cuoc_phi_bs, :boc_xep_bs, :ve_bs, :hang_ve_bs, :luu_ca_bs, :cp_khac_bs,
	:ghi_chu, :warning, :is_deleted, :deleted_at, :deleted_by, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, trip); err != nil {
		return fmt.Errorf("create trip: %w", err)
	}
	return nil
}

// FindByID fetches a trip regardless of its deletion flag.
func (r *TripRepository) FindByID(ctx context.Context, id string) (*models.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1`
	var trip models.Trip
	if err := r.db.GetContext(ctx, &trip, query, id); err != nil {
		return nil, noRowsOnMalformedKey(err)
	}
	return &trip, nil
}

// FindForUpdateTx loads and row-locks a trip for the rest of the transaction.
func (r *TripRepository) FindForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1 FOR UPDATE`
	var trip models.Trip
	if err := tx.GetContext(ctx, &trip, query, id); err != nil {
		return nil, noRowsOnMalformedKey(err)
	}
	return &trip, nil
}

// UpdateTx writes every editable column of the trip.
func (r *TripRepository) UpdateTx(ctx context.Context, tx *sqlx.Tx, trip *models.Trip) error {
	trip.UpdatedAt = time.Now().UTC()
	const query = `UPDATE trips SET ma_kh = :ma_kh, ten_kh = :ten_kh, ten_lai_xe = :ten_lai_xe, bien_so_xe = :bien_so_xe,
	ngay_boc_hang = :ngay_boc_hang, ngay_giao_hang = :ngay_giao_hang, diem_xep_hang = :diem_xep_hang, diem_do_hang = :diem_do_hang,
	cuoc_phi = :cuoc_phi, boc_xep = :boc_xep, ve = :ve, hang_ve = :hang_ve, luu_ca = :luu_ca, luat_chi_phi_khac = :luat_chi_phi_khac,
	cuoc_phi_bs = :cuoc_phi_bs, boc_xep_bs = :boc_xep_bs, ve_bs = :ve_bs, hang_ve_bs = :hang_ve_bs, luu_ca_bs = :luu_ca_bs, cp_khac_bs = :cp_khac_bs,
	ghi_chu = :ghi_chu, warning = :warning, updated_at = :updated_at
	WHERE id = :id`
	result, err := tx.NamedExecContext(ctx, query, trip)
	if err != nil {
		return fmt.Errorf("update trip: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check trip update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns trips matching the filter, newest first, with the total count.
func (r *TripRepository) List(ctx context.Context, filter models.TripFilter) ([]models.Trip, int, error) {
	where, args := buildTripConditions(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	query := fmt.Sprintf(`SELECT %s FROM trips WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		tripColumns, where, limit, offset)
	var trips []models.Trip
	if err := r.db.SelectContext(ctx, &trips, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list trips: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM trips WHERE "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count trips: %w", err)
	}
	return trips, total, nil
}

func buildTripConditions(filter models.TripFilter) (string, []interface{}) {
	args := []interface{}{filter.Deleted}
	conditions := []string{"is_deleted = $1"}

	if filter.DieuVanID != "" {
		args = append(args, filter.DieuVanID)
		conditions = append(conditions, fmt.Sprintf("dieu_van_id = $%d", len(args)))
	}

	for _, field := range models.TripFields() {
		values := filter.Fields[field.Key]
		if len(values) == 0 {
			continue
		}
		alternatives := make([]string, 0, len(values))
		for _, value := range values {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			switch field.Kind {
			case models.FieldKindDate:
				day, err := time.Parse(models.DateLayout, value)
				if err != nil {
					continue
				}
				args = append(args, day.Format(models.DateLayout), day.AddDate(0, 0, 1).Format(models.DateLayout))
				alternatives = append(alternatives, fmt.Sprintf("(%s >= $%d::date AND %s < $%d::date)",
					field.Column, len(args)-1, field.Column, len(args)))
			case models.FieldKindBool:
				args = append(args, strings.EqualFold(value, "true"))
				alternatives = append(alternatives, fmt.Sprintf("%s = $%d", field.Column, len(args)))
			case models.FieldKindMoney:
				args = append(args, "%"+escapeLike(value)+"%")
				alternatives = append(alternatives, fmt.Sprintf("CAST(%s AS TEXT) ILIKE $%d", field.Column, len(args)))
			default:
				args = append(args, "%"+escapeLike(value)+"%")
				alternatives = append(alternatives, fmt.Sprintf("%s ILIKE $%d", field.Column, len(args)))
			}
		}
		if len(alternatives) > 0 {
			conditions = append(conditions, "("+strings.Join(alternatives, " OR ")+")")
		}
	}
	return strings.Join(conditions, " AND "), args
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

// SoftDelete flags a trip as deleted.
func (r *TripRepository) SoftDelete(ctx context.Context, id, deletedBy string, at time.Time) error {
	const query = `UPDATE trips SET is_deleted = true, deleted_at = $2, deleted_by = $3, updated_at = $2 WHERE id = $1 AND is_deleted = false`
	return r.execAffecting(ctx, "soft delete trip", query, id, at, deletedBy)
}

// Restore clears the deletion markers.
func (r *TripRepository) Restore(ctx context.Context, id string) error {
	const query = `UPDATE trips SET is_deleted = false, deleted_at = NULL, deleted_by = NULL, updated_at = $2 WHERE id = $1 AND is_deleted = true`
	return r.execAffecting(ctx, "restore trip", query, id, time.Now().UTC())
}

// Purge removes a trip row permanently together with its pending requests.
func (r *TripRepository) Purge(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin purge transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM trip_edit_requests WHERE trip_id = $1 AND status = 'pending'`, id); err != nil {
		if isMalformedKey(err) {
			err = sql.ErrNoRows
			return err
		}
		return fmt.Errorf("purge pending requests: %w", err)
	}
	var result sql.Result
	if result, err = tx.ExecContext(ctx, `DELETE FROM trips WHERE id = $1`, id); err != nil {
		return fmt.Errorf("purge trip: %w", err)
	}
	var rows int64
	if rows, err = result.RowsAffected(); err != nil {
		return fmt.Errorf("check purge rows: %w", err)
	}
	if rows == 0 {
		err = sql.ErrNoRows
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit purge: %w", err)
	}
	return nil
}

// PurgeDeletedBefore hard-deletes trips soft-deleted before the cutoff, along with their pending requests.
func (r *TripRepository) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (purged int64, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin retention purge: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const pendingQuery = `DELETE FROM trip_edit_requests WHERE status = 'pending' AND trip_id IN
	(SELECT id FROM trips WHERE is_deleted = true AND deleted_at < $1)`
	if _, err = tx.ExecContext(ctx, pendingQuery, cutoff); err != nil {
		return 0, fmt.Errorf("purge pending requests of deleted trips: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM trips WHERE is_deleted = true AND deleted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge deleted trips: %w", err)
	}
	if purged, err = result.RowsAffected(); err != nil {
		return 0, fmt.Errorf("check purged trips: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit retention purge: %w", err)
	}
	return purged, nil
}

func (r *TripRepository) execAffecting(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isMalformedKey(err) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
