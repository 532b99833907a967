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
)

type pgVehicleRepository struct {
	db *sql.DB
}

func NewPgVehicleRepository(db *sql.DB) repository.VehicleRepository {
	return &pgVehicleRepository{db: db}
}

func (r *pgVehicleRepository) Save(ctx context.Context, v *domain.Vehicle) (*domain.Vehicle, error) {
	query := `INSERT INTO vehicles (user_id, plate_number, vehicle_type_id, created_at)
	           VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
	           RETURNING vehicle_id, created_at`
	err := r.db.QueryRowContext(ctx, query, v.UserID, v.PlateNumber, v.VehicleTypeID).
		Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			if pqErr.Constraint == "vehicles_plate_number_key" {
				return nil, fmt.Errorf("%w: biển số '%s' đã được đăng ký", repository.ErrDuplicateEntry, v.PlateNumber)
			}
			return nil, fmt.Errorf("%w: user %d đã đăng ký xe", repository.ErrDuplicateEntry, v.UserID)
		}
		return nil, fmt.Errorf("VehicleRepository.Save: %w", err)
	}
	v.CreatedAt = v.CreatedAt.In(time.UTC)
	return v, nil
}

func (r *pgVehicleRepository) FindByUserID(ctx context.Context, userID int) (*domain.Vehicle, error) {
	v := &domain.Vehicle{}
	query := `SELECT vehicle_id, user_id, plate_number, vehicle_type_id, created_at
	           FROM vehicles WHERE user_id = $1`
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&v.ID, &v.UserID, &v.PlateNumber, &v.VehicleTypeID, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("VehicleRepository.FindByUserID: %w", err)
	}
	v.CreatedAt = v.CreatedAt.In(time.UTC)
	return v, nil
}

func (r *pgVehicleRepository) FindAllTypes(ctx context.Context) ([]domain.VehicleType, error) {
	query := `SELECT vehicle_type_id, type_name FROM vehicle_types ORDER BY vehicle_type_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("VehicleRepository.FindAllTypes: %w", err)
	}
	defer rows.Close()

	var types []domain.VehicleType
	for rows.Next() {
		var t domain.VehicleType
		if err := rows.Scan(&t.ID, &t.TypeName); err != nil {
			return nil, fmt.Errorf("VehicleRepository.FindAllTypes (scanning row): %w", err)
		}
		types = append(types, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("VehicleRepository.FindAllTypes (rows error): %w", err)
	}
	return types, nil
}
