package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Nurihank/smart-parking-api/internal/domain"

	"gopkg.in/guregu/null.v4"
)

var ErrNotFound = errors.New("không tìm thấy bản ghi")
var ErrDuplicateEntry = errors.New("bản ghi đã tồn tại")
var ErrNoActiveReservation = errors.New("không tìm thấy reservation đang hoạt động cho thông tin cung cấp")

// ErrStaleStatus trả về khi một update có điều kiện (compare-and-swap trên cột status)
// không khớp với trạng thái hiện tại trong DB.
var ErrStaleStatus = errors.New("trạng thái trong DB đã thay đổi, update có điều kiện không khớp")

type ParkingSpotRepository interface {
	FindByID(ctx context.Context, id int) (*domain.ParkingSpot, error)
	FindAll(ctx context.Context) ([]domain.ParkingSpot, error)
	// UpdateStatus đổi trạng thái spot vô điều kiện. Mỗi lần thành công phải ghi một dòng spot_status_log.
	UpdateStatus(ctx context.Context, id int, status domain.SpotStatus) error
	// UpdateStatusIf chỉ đổi trạng thái khi trạng thái hiện tại bằng expected (compare-and-swap).
	// Trả về ErrStaleStatus nếu spot tồn tại nhưng trạng thái không khớp.
	UpdateStatusIf(ctx context.Context, id int, expected, next domain.SpotStatus) error
}

type ReservationRepository interface {
	// Create thất bại với ErrDuplicateEntry nếu user đã có reservation active,
	// bất kể spot có trống hay không (kiểm tra spot là việc của tầng trên).
	Create(ctx context.Context, r *domain.Reservation) (*domain.Reservation, error)
	FindByID(ctx context.Context, id int) (*domain.Reservation, error)
	FindActiveByUser(ctx context.Context, userID int) (*domain.Reservation, error)
	FindActiveBySpot(ctx context.Context, spotID int) (*domain.Reservation, error)
	FindAllActive(ctx context.Context) ([]domain.Reservation, error)
	FindByUser(ctx context.Context, userID int) ([]domain.Reservation, error)
	// FindExpired trả về các reservation active có expected_end_time < now và actual_end_time chưa đặt.
	FindExpired(ctx context.Context, now time.Time) ([]domain.Reservation, error)
	// Transition đổi trạng thái có điều kiện (WHERE reservation_status = from).
	// Trả về ErrNotFound nếu id không tồn tại, ErrStaleStatus nếu tồn tại nhưng không còn ở trạng thái from.
	Transition(ctx context.Context, id int, from, to domain.ReservationStatus, actualEnd null.Time) (*domain.Reservation, error)
}

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id int) (*domain.User, error)
}

type VehicleRepository interface {
	// Save thất bại với ErrDuplicateEntry nếu user đã đăng ký xe.
	Save(ctx context.Context, v *domain.Vehicle) (*domain.Vehicle, error)
	FindByUserID(ctx context.Context, userID int) (*domain.Vehicle, error)
	FindAllTypes(ctx context.Context) ([]domain.VehicleType, error)
}
