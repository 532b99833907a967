package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Nurihank/smart-parking-api/internal/domain"
	"github.com/Nurihank/smart-parking-api/internal/repository"

	"github.com/lib/pq"
	"gopkg.in/guregu/null.v4"
)

type pgReservationRepository struct {
	db *sql.DB
}

func NewPgReservationRepository(db *sql.DB) repository.ReservationRepository {
	return &pgReservationRepository{db: db}
}

const reservationColumns = `reservation_id, user_id, spot_id, vehicle_id, reservation_status,
	start_time, expected_end_time, actual_end_time, created_at, updated_at`

func scanReservation(row interface {
	Scan(dest ...interface{}) error
}) (*domain.Reservation, error) {
	r := &domain.Reservation{}
	var actualEnd sql.NullTime
	err := row.Scan(
		&r.ID, &r.UserID, &r.SpotID, &r.VehicleID, &r.Status,
		&r.StartTime, &r.ExpectedEndTime, &actualEnd, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if actualEnd.Valid {
		r.ActualEndTime = null.TimeFrom(actualEnd.Time.In(time.UTC))
	}
	r.StartTime = r.StartTime.In(time.UTC)
	r.ExpectedEndTime = r.ExpectedEndTime.In(time.UTC)
	r.CreatedAt = r.CreatedAt.In(time.UTC)
	r.UpdatedAt = r.UpdatedAt.In(time.UTC)
	return r, nil
}

func (repo *pgReservationRepository) Create(ctx context.Context, r *domain.Reservation) (*domain.Reservation, error) {
	query := `INSERT INTO reservations (user_id, spot_id, vehicle_id, reservation_status, start_time, expected_end_time, created_at, updated_at)
	           VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	           RETURNING reservation_id, created_at, updated_at`
	err := repo.db.QueryRowContext(ctx, query,
		r.UserID, r.SpotID, r.VehicleID, r.Status, r.StartTime, r.ExpectedEndTime,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			// Partial unique index trên (user_id) WHERE reservation_status = 'active'
			return nil, fmt.Errorf("%w: user %d đã có reservation active", repository.ErrDuplicateEntry, r.UserID)
		}
		return nil, fmt.Errorf("ReservationRepository.Create: %w", err)
	}
	r.CreatedAt = r.CreatedAt.In(time.UTC)
	r.UpdatedAt = r.UpdatedAt.In(time.UTC)
	return r, nil
}

func (repo *pgReservationRepository) FindByID(ctx context.Context, id int) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE reservation_id = $1`
	r, err := scanReservation(repo.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ReservationRepository.FindByID: %w", err)
	}
	return r, nil
}

func (repo *pgReservationRepository) FindActiveByUser(ctx context.Context, userID int) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
	           WHERE user_id = $1 AND reservation_status = 'active'`
	r, err := scanReservation(repo.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNoActiveReservation
		}
		return nil, fmt.Errorf("ReservationRepository.FindActiveByUser: %w", err)
	}
	return r, nil
}

func (repo *pgReservationRepository) FindActiveBySpot(ctx context.Context, spotID int) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
	           WHERE spot_id = $1 AND reservation_status = 'active'`
	r, err := scanReservation(repo.db.QueryRowContext(ctx, query, spotID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNoActiveReservation
		}
		return nil, fmt.Errorf("ReservationRepository.FindActiveBySpot: %w", err)
	}
	return r, nil
}

// FindAllActive trả về reservation active kèm thông tin join cho dashboard.
func (repo *pgReservationRepository) FindAllActive(ctx context.Context) ([]domain.Reservation, error) {
	query := `SELECT r.reservation_id, r.user_id, r.spot_id, r.vehicle_id, r.reservation_status,
	                 r.start_time, r.expected_end_time, r.actual_end_time, r.created_at, r.updated_at,
	                 u.full_name, s.spot_name, v.plate_number
	           FROM reservations r
	           JOIN users u ON u.user_id = r.user_id
	           JOIN parking_spots s ON s.spot_id = r.spot_id
	           JOIN vehicles v ON v.vehicle_id = r.vehicle_id
	           WHERE r.reservation_status = 'active'
	           ORDER BY r.start_time`
	return repo.queryJoined(ctx, query)
}

func (repo *pgReservationRepository) FindByUser(ctx context.Context, userID int) ([]domain.Reservation, error) {
	query := `SELECT r.reservation_id, r.user_id, r.spot_id, r.vehicle_id, r.reservation_status,
	                 r.start_time, r.expected_end_time, r.actual_end_time, r.created_at, r.updated_at,
	                 u.full_name, s.spot_name, v.plate_number
	           FROM reservations r
	           JOIN users u ON u.user_id = r.user_id
	           JOIN parking_spots s ON s.spot_id = r.spot_id
	           JOIN vehicles v ON v.vehicle_id = r.vehicle_id
	           WHERE r.user_id = $1
	           ORDER BY r.start_time DESC`
	return repo.queryJoined(ctx, query, userID)
}

func (repo *pgReservationRepository) queryJoined(ctx context.Context, query string, args ...interface{}) ([]domain.Reservation, error) {
	rows, err := repo.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ReservationRepository (query joined): %w", err)
	}
	defer rows.Close()

	var reservations []domain.Reservation
	for rows.Next() {
		var r domain.Reservation
		var actualEnd sql.NullTime
		var fullName, spotName, plateNumber sql.NullString
		if err := rows.Scan(
			&r.ID, &r.UserID, &r.SpotID, &r.VehicleID, &r.Status,
			&r.StartTime, &r.ExpectedEndTime, &actualEnd, &r.CreatedAt, &r.UpdatedAt,
			&fullName, &spotName, &plateNumber,
		); err != nil {
			return nil, fmt.Errorf("ReservationRepository (scanning row): %w", err)
		}
		if actualEnd.Valid {
			r.ActualEndTime = null.TimeFrom(actualEnd.Time.In(time.UTC))
		}
		r.Username = null.NewString(fullName.String, fullName.Valid)
		r.SpotName = null.NewString(spotName.String, spotName.Valid)
		r.PlateNumber = null.NewString(plateNumber.String, plateNumber.Valid)
		r.StartTime = r.StartTime.In(time.UTC)
		r.ExpectedEndTime = r.ExpectedEndTime.In(time.UTC)
		r.CreatedAt = r.CreatedAt.In(time.UTC)
		r.UpdatedAt = r.UpdatedAt.In(time.UTC)
		reservations = append(reservations, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ReservationRepository (rows error): %w", err)
	}
	return reservations, nil
}

func (repo *pgReservationRepository) FindExpired(ctx context.Context, now time.Time) ([]domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
	           WHERE reservation_status = 'active' AND expected_end_time < $1 AND actual_end_time IS NULL
	           ORDER BY expected_end_time`
	rows, err := repo.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("ReservationRepository.FindExpired: %w", err)
	}
	defer rows.Close()

	var reservations []domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("ReservationRepository.FindExpired (scanning row): %w", err)
		}
		reservations = append(reservations, *r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ReservationRepository.FindExpired (rows error): %w", err)
	}
	return reservations, nil
}

// Transition là update có điều kiện: WHERE reservation_status = from bảo đảm
// transition chỉ áp dụng đúng một lần dù hai trigger cùng nhắm một reservation.
func (repo *pgReservationRepository) Transition(ctx context.Context, id int, from, to domain.ReservationStatus, actualEnd null.Time) (*domain.Reservation, error) {
	query := `UPDATE reservations
	           SET reservation_status = $1, actual_end_time = $2, updated_at = CURRENT_TIMESTAMP
	           WHERE reservation_id = $3 AND reservation_status = $4
	           RETURNING ` + reservationColumns
	var actualEndArg sql.NullTime
	if actualEnd.Valid {
		actualEndArg = sql.NullTime{Time: actualEnd.Time, Valid: true}
	}
	r, err := scanReservation(repo.db.QueryRowContext(ctx, query, to, actualEndArg, id, from))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Phân biệt reservation không tồn tại với reservation đã đổi trạng thái
			var exists bool
			if checkErr := repo.db.QueryRowContext(ctx,
				`SELECT EXISTS(SELECT 1 FROM reservations WHERE reservation_id = $1)`, id).Scan(&exists); checkErr != nil {
				return nil, fmt.Errorf("ReservationRepository.Transition (check exists): %w", checkErr)
			}
			if !exists {
				return nil, repository.ErrNotFound
			}
			return nil, repository.ErrStaleStatus
		}
		return nil, fmt.Errorf("ReservationRepository.Transition: %w", err)
	}
	return r, nil
}
