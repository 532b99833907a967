package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Nurihank/smart-parking-api/internal/domain"
	"github.com/Nurihank/smart-parking-api/internal/repository"
)

type pgParkingSpotRepository struct {
	db *sql.DB
}

func NewPgParkingSpotRepository(db *sql.DB) repository.ParkingSpotRepository {
	return &pgParkingSpotRepository{db: db}
}

func (r *pgParkingSpotRepository) FindByID(ctx context.Context, id int) (*domain.ParkingSpot, error) {
	spot := &domain.ParkingSpot{}
	query := `SELECT spot_id, spot_name, status, created_at, updated_at
	           FROM parking_spots WHERE spot_id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&spot.ID, &spot.SpotName, &spot.Status, &spot.CreatedAt, &spot.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ParkingSpotRepository.FindByID: %w", err)
	}
	spot.CreatedAt = spot.CreatedAt.In(time.UTC)
	spot.UpdatedAt = spot.UpdatedAt.In(time.UTC)
	return spot, nil
}

func (r *pgParkingSpotRepository) FindAll(ctx context.Context) ([]domain.ParkingSpot, error) {
	query := `SELECT spot_id, spot_name, status, created_at, updated_at
	           FROM parking_spots ORDER BY spot_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ParkingSpotRepository.FindAll: %w", err)
	}
	defer rows.Close()

	var spots []domain.ParkingSpot
	for rows.Next() {
		var spot domain.ParkingSpot
		if err := rows.Scan(&spot.ID, &spot.SpotName, &spot.Status, &spot.CreatedAt, &spot.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ParkingSpotRepository.FindAll (scanning row): %w", err)
		}
		spot.CreatedAt = spot.CreatedAt.In(time.UTC)
		spot.UpdatedAt = spot.UpdatedAt.In(time.UTC)
		spots = append(spots, spot)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ParkingSpotRepository.FindAll (rows error): %w", err)
	}
	return spots, nil
}

// UpdateStatus đổi trạng thái spot và ghi một dòng spot_status_log trong cùng transaction,
// để mọi lần spot đổi trạng thái đều có vết audit.
func (r *pgParkingSpotRepository) UpdateStatus(ctx context.Context, id int, status domain.SpotStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ParkingSpotRepository.UpdateStatus (begin tx): %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE parking_spots SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE spot_id = $2`,
		status, id)
	if err != nil {
		return fmt.Errorf("ParkingSpotRepository.UpdateStatus: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ParkingSpotRepository.UpdateStatus (rows affected): %w", err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO spot_status_log (spot_id, status, logged_at) VALUES ($1, $2, CURRENT_TIMESTAMP)`,
		id, status)
	if err != nil {
		return fmt.Errorf("ParkingSpotRepository.UpdateStatus (insert log): %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ParkingSpotRepository.UpdateStatus (commit): %w", err)
	}
	return nil
}

// UpdateStatusIf là compare-and-swap trên cột status: chỉ update khi trạng thái
// hiện tại bằng expected. Dùng để chặn race giữa tạo reservation và sự kiện cảm biến.
func (r *pgParkingSpotRepository) UpdateStatusIf(ctx context.Context, id int, expected, next domain.SpotStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ParkingSpotRepository.UpdateStatusIf (begin tx): %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE parking_spots SET status = $1, updated_at = CURRENT_TIMESTAMP
		  WHERE spot_id = $2 AND status = $3`,
		next, id, expected)
	if err != nil {
		return fmt.Errorf("ParkingSpotRepository.UpdateStatusIf: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ParkingSpotRepository.UpdateStatusIf (rows affected): %w", err)
	}
	if rowsAffected == 0 {
		// Phân biệt spot không tồn tại với spot đã đổi trạng thái
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM parking_spots WHERE spot_id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("ParkingSpotRepository.UpdateStatusIf (check exists): %w", err)
		}
		if !exists {
			return repository.ErrNotFound
		}
		return repository.ErrStaleStatus
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO spot_status_log (spot_id, status, logged_at) VALUES ($1, $2, CURRENT_TIMESTAMP)`,
		id, next)
	if err != nil {
		return fmt.Errorf("ParkingSpotRepository.UpdateStatusIf (insert log): %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ParkingSpotRepository.UpdateStatusIf (commit): %w", err)
	}
	return nil
}
