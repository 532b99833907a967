// Package coordinator là nơi duy nhất được ghi trạng thái spot và reservation.
// Ba nguồn sự kiện (API, cảm biến, timer) đều quy đổi sự kiện của mình thành
// một Request và nộp qua Submit; Coordinator tuần tự hóa các transition chạm
// cùng một spot bằng bảng khóa theo spot id, các spot khác nhau chạy song song.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Nurihank/smart-parking-api/internal/domain"
	"github.com/Nurihank/smart-parking-api/internal/engine"
	"github.com/Nurihank/smart-parking-api/internal/repository"

	"gopkg.in/guregu/null.v4"
)

// ErrStorage bọc mọi lỗi từ tầng lưu trữ không phải sentinel nghiệp vụ.
// Không bao giờ được nuốt: adapter retry tối đa một lần rồi surface.
var ErrStorage = errors.New("lỗi tầng lưu trữ")

type Kind int

const (
	KindCreateReservation Kind = iota
	KindVehicleArrived
	KindVehicleLeft
	KindCancelReservation
	KindExpireReservation
)

// Request là một yêu cầu chuyển trạng thái đã được adapter chuẩn hóa.
// Kind quyết định trường nào có nghĩa: Create dùng UserID/SpotID/VehicleID,
// Arrived/Left dùng SpotID, Cancel/Expire dùng ReservationID.
type Request struct {
	Kind          Kind
	UserID        int
	SpotID        int
	VehicleID     int
	ReservationID int
}

// Result trả về khi transition được áp dụng thành công.
// Lỗi nghiệp vụ (conflict, not-found, invalid-transition) trả qua error
// bằng các sentinel của engine/repository; lỗi lưu trữ bọc trong ErrStorage.
type Result struct {
	Reservation     *domain.Reservation
	SpotID          int
	SpotStatus      domain.SpotStatus
	Unmatched       bool     // vehicle-detected không có reservation active
	DurationMinutes null.Int // chỉ đặt khi xe rời đi
}

type Coordinator struct {
	spotRepo     repository.ParkingSpotRepository
	resvRepo     repository.ReservationRepository
	holdDuration time.Duration

	// Bảng khóa theo spot id. Mọi transition đều chạm đúng một spot và một
	// reservation active gắn 1:1 với spot đó, nên khóa theo spot là đủ để
	// tuần tự hóa cả hai subject.
	spotLocks sync.Map

	now func() time.Time
}

func New(spotRepo repository.ParkingSpotRepository, resvRepo repository.ReservationRepository, holdDuration time.Duration) *Coordinator {
	return &Coordinator{
		spotRepo:     spotRepo,
		resvRepo:     resvRepo,
		holdDuration: holdDuration,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (c *Coordinator) Submit(ctx context.Context, req Request) (*Result, error) {
	switch req.Kind {
	case KindCreateReservation:
		return c.createReservation(ctx, req)
	case KindVehicleArrived:
		return c.vehicleArrived(ctx, req.SpotID)
	case KindVehicleLeft:
		return c.vehicleLeft(ctx, req.SpotID)
	case KindCancelReservation:
		return c.terminateReservation(ctx, req.ReservationID, false)
	case KindExpireReservation:
		return c.terminateReservation(ctx, req.ReservationID, true)
	}
	return nil, fmt.Errorf("loại request không xác định: %d", req.Kind)
}

// lockSpot trả về hàm unlock. Khóa chỉ được giữ trong read-modify-write,
// mọi notification downstream phải diễn ra sau khi unlock.
func (c *Coordinator) lockSpot(spotID int) func() {
	v, _ := c.spotLocks.LoadOrStore(spotID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (c *Coordinator) createReservation(ctx context.Context, req Request) (*Result, error) {
	unlock := c.lockSpot(req.SpotID)
	defer unlock()

	spot, err := c.spotRepo.FindByID(ctx, req.SpotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, storageErr(err)
	}

	existing, err := c.resvRepo.FindActiveByUser(ctx, req.UserID)
	if err != nil && !errors.Is(err, repository.ErrNoActiveReservation) {
		return nil, storageErr(err)
	}

	if err := engine.CanCreateReservation(spot, existing); err != nil {
		return nil, err
	}

	// CAS free -> reserved trước khi tạo reservation: nếu một transition khác
	// vừa chiếm spot (ví dụ unmatched occupancy) thì từ chối như spot unavailable.
	if err := c.spotRepo.UpdateStatusIf(ctx, req.SpotID, domain.SpotFree, domain.SpotReserved); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, engine.ErrSpotUnavailable
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, storageErr(err)
	}

	now := c.now()
	created, err := c.resvRepo.Create(ctx, &domain.Reservation{
		UserID:          req.UserID,
		SpotID:          req.SpotID,
		VehicleID:       req.VehicleID,
		Status:          domain.ReservationActive,
		StartTime:       now,
		ExpectedEndTime: now.Add(c.holdDuration),
	})
	if err != nil {
		// Reservation không tạo được thì trả spot về free, nếu không spot sẽ kẹt ở reserved
		if revertErr := c.spotRepo.UpdateStatus(ctx, req.SpotID, domain.SpotFree); revertErr != nil {
			log.Printf("Coordinator: Lỗi trả spot %d về free sau khi tạo reservation thất bại: %v", req.SpotID, revertErr)
		}
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return nil, err
		}
		return nil, storageErr(err)
	}

	return &Result{
		Reservation: created,
		SpotID:      req.SpotID,
		SpotStatus:  domain.SpotReserved,
	}, nil
}

func (c *Coordinator) vehicleArrived(ctx context.Context, spotID int) (*Result, error) {
	unlock := c.lockSpot(spotID)
	defer unlock()

	if _, err := c.spotRepo.FindByID(ctx, spotID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, storageErr(err)
	}

	active, err := c.resvRepo.FindActiveBySpot(ctx, spotID)
	if err != nil {
		if !errors.Is(err, repository.ErrNoActiveReservation) {
			return nil, storageErr(err)
		}
		active = nil
	}

	decision := engine.DecideArrival(active)
	if err := c.spotRepo.UpdateStatus(ctx, spotID, decision.SpotStatus); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, storageErr(err)
	}

	return &Result{
		Reservation: active,
		SpotID:      spotID,
		SpotStatus:  decision.SpotStatus,
		Unmatched:   decision.Unmatched,
	}, nil
}

func (c *Coordinator) vehicleLeft(ctx context.Context, spotID int) (*Result, error) {
	unlock := c.lockSpot(spotID)
	defer unlock()

	if _, err := c.spotRepo.FindByID(ctx, spotID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, storageErr(err)
	}

	active, err := c.resvRepo.FindActiveBySpot(ctx, spotID)
	if err != nil {
		if errors.Is(err, repository.ErrNoActiveReservation) {
			// Xe rời một spot không có reservation active: no-op lành tính
			return nil, engine.ErrInvalidTransition
		}
		return nil, storageErr(err)
	}

	decision, err := engine.DecideDeparture(active, c.now())
	if err != nil {
		return nil, err
	}

	updated, err := c.resvRepo.Transition(ctx, active.ID,
		domain.ReservationActive, decision.ReservationStatus, null.TimeFrom(decision.ActualEndTime))
	if err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, engine.ErrInvalidTransition
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, storageErr(err)
	}

	if err := c.updateSpotCommitted(ctx, spotID, decision.SpotStatus); err != nil {
		return nil, storageErr(err)
	}

	return &Result{
		Reservation:     updated,
		SpotID:          spotID,
		SpotStatus:      decision.SpotStatus,
		DurationMinutes: null.IntFrom(int64(decision.DurationMinutes)),
	}, nil
}

// terminateReservation xử lý chung manual cancel và expiry sweep: khác nhau
// duy nhất ở luật quyết định (expiry đòi hỏi quá expected_end_time).
func (c *Coordinator) terminateReservation(ctx context.Context, reservationID int, byExpiry bool) (*Result, error) {
	// Đọc ngoài khóa để biết reservation thuộc spot nào
	resv, err := c.resvRepo.FindByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, storageErr(err)
	}

	unlock := c.lockSpot(resv.SpotID)
	defer unlock()

	// Đọc lại dưới khóa: một trigger khác có thể vừa kết thúc reservation này
	resv, err = c.resvRepo.FindByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, storageErr(err)
	}

	var decision engine.CancelDecision
	if byExpiry {
		decision, err = engine.DecideExpiry(resv, c.now())
	} else {
		decision, err = engine.DecideCancel(resv)
	}
	if err != nil {
		return nil, err
	}

	updated, err := c.resvRepo.Transition(ctx, reservationID,
		domain.ReservationActive, decision.ReservationStatus, null.Time{})
	if err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, engine.ErrInvalidTransition
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, storageErr(err)
	}

	// Spot đang reserved/occupied do chính reservation này (binding 1:1 dưới khóa)
	if err := c.updateSpotCommitted(ctx, resv.SpotID, decision.SpotStatus); err != nil {
		return nil, storageErr(err)
	}

	return &Result{
		Reservation: updated,
		SpotID:      resv.SpotID,
		SpotStatus:  decision.SpotStatus,
	}, nil
}

// updateSpotCommitted cập nhật spot sau khi transition của reservation đã
// commit. Đến đây reservation đã ở trạng thái kết thúc nên một lần retry của
// adapter sẽ chỉ nhận ErrInvalidTransition và không giải phóng được spot;
// vì vậy thử lại việc cập nhật spot ngay tại chỗ trước khi surface lỗi.
func (c *Coordinator) updateSpotCommitted(ctx context.Context, spotID int, status domain.SpotStatus) error {
	err := c.spotRepo.UpdateStatus(ctx, spotID, status)
	if err == nil || errors.Is(err, repository.ErrNotFound) {
		return err
	}
	log.Printf("Coordinator: Lỗi cập nhật spot %d sau khi reservation đã chuyển trạng thái, thử lại: %v", spotID, err)
	return c.spotRepo.UpdateStatus(ctx, spotID, status)
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStorage, err)
}
