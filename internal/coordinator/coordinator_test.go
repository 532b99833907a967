package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Nurihank/smart-parking-api/internal/domain"
	"github.com/Nurihank/smart-parking-api/internal/engine"
	"github.com/Nurihank/smart-parking-api/internal/repository"
	"github.com/Nurihank/smart-parking-api/internal/repository/memory"
)

func newTestCoordinator(spots ...*domain.ParkingSpot) (*Coordinator, *memory.SpotRepo, *memory.ReservationRepo) {
	spotRepo := memory.NewSpotRepo(spots...)
	resvRepo := memory.NewReservationRepo()
	return New(spotRepo, resvRepo, 10*time.Minute), spotRepo, resvRepo
}

func freeSpot(id int) *domain.ParkingSpot {
	return &domain.ParkingSpot{ID: id, SpotName: "A", Status: domain.SpotFree}
}

func TestCreateReservation(t *testing.T) {
	c, spotRepo, _ := newTestCoordinator(freeSpot(5))
	ctx := context.Background()

	res, err := c.Submit(ctx, Request{Kind: KindCreateReservation, UserID: 1, SpotID: 5, VehicleID: 9})
	if err != nil {
		t.Fatalf("không muốn lỗi, nhận %v", err)
	}
	if res.Reservation.Status != domain.ReservationActive {
		t.Fatalf("muốn reservation active, nhận %s", res.Reservation.Status)
	}
	if got := res.Reservation.ExpectedEndTime.Sub(res.Reservation.StartTime); got != 10*time.Minute {
		t.Fatalf("muốn giữ chỗ 10 phút, nhận %v", got)
	}
	if res.SpotStatus != domain.SpotReserved {
		t.Fatalf("muốn spot reserved, nhận %s", res.SpotStatus)
	}
	spot, _ := spotRepo.FindByID(ctx, 5)
	if spot.Status != domain.SpotReserved {
		t.Fatalf("spot trong repo phải reserved, nhận %s", spot.Status)
	}
}

func TestCreateReservationSpotNotFree(t *testing.T) {
	c, _, _ := newTestCoordinator(&domain.ParkingSpot{ID: 5, Status: domain.SpotOccupied})

	_, err := c.Submit(context.Background(), Request{Kind: KindCreateReservation, UserID: 1, SpotID: 5, VehicleID: 9})
	if !errors.Is(err, engine.ErrSpotUnavailable) {
		t.Fatalf("muốn ErrSpotUnavailable, nhận %v", err)
	}
}

func TestCreateReservationDuplicateUser(t *testing.T) {
	c, _, _ := newTestCoordinator(freeSpot(5), freeSpot(6))
	ctx := context.Background()

	if _, err := c.Submit(ctx, Request{Kind: KindCreateReservation, UserID: 1, SpotID: 5, VehicleID: 9}); err != nil {
		t.Fatalf("reservation đầu không được lỗi: %v", err)
	}
	_, err := c.Submit(ctx, Request{Kind: KindCreateReservation, UserID: 1, SpotID: 6, VehicleID: 9})
	if !errors.Is(err, engine.ErrDuplicateActive) {
		t.Fatalf("user đã có reservation active: muốn ErrDuplicateActive, nhận %v", err)
	}
}

func TestCreateReservationSpotNotFound(t *testing.T) {
	c, _, _ := newTestCoordinator()
	_, err := c.Submit(context.Background(), Request{Kind: KindCreateReservation, UserID: 1, SpotID: 99, VehicleID: 9})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("muốn ErrNotFound, nhận %v", err)
	}
}

// Nếu tạo bản ghi reservation thất bại sau khi spot đã chuyển reserved,
// spot phải được trả về free chứ không được kẹt ở reserved.
func TestCreateReservationRevertsSpotOnStorageFailure(t *testing.T) {
	c, spotRepo, resvRepo := newTestCoordinator(freeSpot(5))
	ctx := context.Background()

	resvRepo.FailNext = errors.New("mất kết nối DB")
	_, err := c.Submit(ctx, Request{Kind: KindCreateReservation, UserID: 1, SpotID: 5, VehicleID: 9})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("muốn ErrStorage, nhận %v", err)
	}
	spot, _ := spotRepo.FindByID(ctx, 5)
	if spot.Status != domain.SpotFree {
		t.Fatalf("spot phải được trả về free, nhận %s", spot.Status)
	}
}

func TestVehicleArrivedMatched(t *testing.T) {
	c, spotRepo, _ := newTestCoordinator(freeSpot(5))
	ctx := context.Background()

	created, _ := c.Submit(ctx, Request{Kind: KindCreateReservation, UserID: 1, SpotID: 5, VehicleID: 9})

	res, err := c.Submit(ctx, Request{Kind: KindVehicleArrived, SpotID: 5})
	if err != nil {
		t.Fatalf("không muốn lỗi, nhận %v", err)
	}
	if res.Unmatched {
		t.Fatalf("có reservation active, không được unmatched")
	}
	if res.Reservation == nil || res.Reservation.ID != created.Reservation.ID {
		t.Fatalf("phải trả về reservation khớp với spot")
	}
	// Xe đến: reservation giữ nguyên active, actual_end_time chưa đặt
	if res.Reservation.Status != domain.ReservationActive {
		t.Fatalf("reservation phải giữ nguyên active, nhận %s", res.Reservation.Status)
	}
	if res.Reservation.ActualEndTime.Valid {
		t.Fatalf("actual_end_time không được đặt khi xe đến")
	}
	spot, _ := spotRepo.FindByID(ctx, 5)
	if spot.Status != domain.SpotOccupied {
		t.Fatalf("muốn spot occupied, nhận %s", spot.Status)
	}
}

func TestVehicleArrivedUnmatched(t *testing.T) {
	c, spotRepo, _ := newTestCoordinator(freeSpot(7))
	ctx := context.Background()

	res, err := c.Submit(ctx, Request{Kind: KindVehicleArrived, SpotID: 7})
	if err != nil {
		t.Fatalf("không muốn lỗi, nhận %v", err)
	}
	if !res.Unmatched {
		t.Fatalf("không có reservation: phải unmatched")
	}
	if res.SpotStatus != domain.SpotOccupied {
		t.Fatalf("spot vẫn phải chuyển sang occupied, nhận %s", res.SpotStatus)
	}
	spot, _ := spotRepo.FindByID(ctx, 7)
	if spot.Status != domain.SpotOccupied {
		t.Fatalf("spot trong repo phải occupied, nhận %s", spot.Status)
	}
}

func TestVehicleLeftCompletesReservation(t *testing.T) {
	c, spotRepo, _ := newTestCoordinator(freeSpot(5))
	ctx := context.Background()

	c.Submit(ctx, Request{Kind: KindCreateReservation, UserID: 1, SpotID: 5, VehicleID: 9})
	c.Submit(ctx, Request{Kind: KindVehicleArrived, SpotID: 5})

	res, err := c.Submit(ctx, Request{Kind: KindVehicleLeft, SpotID: 5})
	if err != nil {
		t.Fatalf("không muốn lỗi, nhận %v", err)
	}
	if res.Reservation.Status != domain.ReservationCompleted {
		t.Fatalf("muốn completed, nhận %s", res.Reservation.Status)
	}
	if !res.Reservation.ActualEndTime.Valid {
		t.Fatalf("actual_end_time phải được đặt khi xe rời đi")
	}
	if !res.DurationMinutes.Valid {
		t.Fatalf("kết quả phải kèm thời gian đỗ")
	}
	spot, _ := spotRepo.FindByID(ctx, 5)
	if spot.Status != domain.SpotFree {
		t.Fatalf("muốn spot free, nhận %s", spot.Status)
	}
	// Chuỗi trạng thái của spot phải là reserved -> occupied -> free
	want := []domain.SpotStatus{domain.SpotReserved, domain.SpotOccupied, domain.SpotFree}
	got := spotRepo.StatusLog(5)
	if len(got) != len(want) {
		t.Fatalf("muốn %d transition, nhận %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition %d: muốn %s, nhận %s", i, want[i], got[i])
		}
	}
}

func TestVehicleLeftWithoutActiveReservation(t *testing.T) {
	c, _, _ := newTestCoordinator(freeSpot(5))
	_, err := c.Submit(context.Background(), Request{Kind: KindVehicleLeft, SpotID: 5})
	if !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("muốn ErrInvalidTransition (no-op lành tính), nhận %v", err)
	}
}

func TestCancelReservation(t *testing.T) {
	c, spotRepo, _ := newTestCoordinator(freeSpot(5))
	ctx := context.Background()

	created, _ := c.Submit(ctx, Request{Kind: KindCreateReservation, UserID: 1, SpotID: 5, VehicleID: 9})

	res, err := c.Submit(ctx, Request{Kind: KindCancelReservation, ReservationID: created.Reservation.ID})
	if err != nil {
		t.Fatalf("không muốn lỗi, nhận %v", err)
	}
	if res.Reservation.Status != domain.ReservationCancelled {
		t.Fatalf("muốn cancelled, nhận %s", res.Reservation.Status)
	}
	if res.Reservation.ActualEndTime.Valid {
		t.Fatalf("cancel không được đặt actual_end_time")
	}
	spot, _ := spotRepo.FindByID(ctx, 5)
	if spot.Status != domain.SpotFree {
		t.Fatalf("muốn spot free, nhận %s", spot.Status)
	}

	// Cancel lần hai: no-op lành tính
	if _, err := c.Submit(ctx, Request{Kind: KindCancelReservation, ReservationID: created.Reservation.ID}); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("cancel lặp: muốn ErrInvalidTransition, nhận %v", err)
	}
}

func TestExpireReservation(t *testing.T) {
	c, spotRepo, _ := newTestCoordinator(freeSpot(5))
	ctx := context.Background()

	created, _ := c.Submit(ctx, Request{Kind: KindCreateReservation, UserID: 2, SpotID: 5, VehicleID: 9})

	// Chưa quá expected_end_time: sweep không được hủy
	if _, err := c.Submit(ctx, Request{Kind: KindExpireReservation, ReservationID: created.Reservation.ID}); !errors.Is(err, engine.ErrNotExpired) {
		t.Fatalf("chưa hết hạn: muốn ErrNotExpired, nhận %v", err)
	}

	// Đẩy đồng hồ qua mốc hết hạn
	c.now = func() time.Time { return created.Reservation.ExpectedEndTime.Add(time.Minute) }

	res, err := c.Submit(ctx, Request{Kind: KindExpireReservation, ReservationID: created.Reservation.ID})
	if err != nil {
		t.Fatalf("không muốn lỗi, nhận %v", err)
	}
	if res.Reservation.Status != domain.ReservationCancelled {
		t.Fatalf("muốn cancelled, nhận %s", res.Reservation.Status)
	}
	spot, _ := spotRepo.FindByID(ctx, 5)
	if spot.Status != domain.SpotFree {
		t.Fatalf("muốn spot free, nhận %s", spot.Status)
	}
}

// Hai trigger cùng nhắm một reservation (cancel thủ công vs expiry sweep):
// đúng một bên thắng, bên kia nhận ErrInvalidTransition.
func TestConcurrentCancelAndExpire(t *testing.T) {
	c, _, _ := newTestCoordinator(freeSpot(5))
	ctx := context.Background()

	created, _ := c.Submit(ctx, Request{Kind: KindCreateReservation, UserID: 1, SpotID: 5, VehicleID: 9})
	c.now = func() time.Time { return created.Reservation.ExpectedEndTime.Add(time.Minute) }

	kinds := []Kind{KindCancelReservation, KindExpireReservation}
	errs := make([]error, len(kinds))
	var wg sync.WaitGroup
	for i, k := range kinds {
		wg.Add(1)
		go func(i int, k Kind) {
			defer wg.Done()
			_, errs[i] = c.Submit(ctx, Request{Kind: k, ReservationID: created.Reservation.ID})
		}(i, k)
	}
	wg.Wait()

	var wins, noops int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, engine.ErrInvalidTransition):
			noops++
		default:
			t.Fatalf("lỗi không mong đợi: %v", err)
		}
	}
	if wins != 1 || noops != 1 {
		t.Fatalf("muốn đúng 1 bên thắng và 1 no-op, nhận wins=%d noops=%d", wins, noops)
	}
}

// Nhiều request tạo reservation cùng nhắm một spot: đúng một request thành công.
func TestConcurrentCreateSameSpot(t *testing.T) {
	c, _, _ := newTestCoordinator(freeSpot(5))
	ctx := context.Background()

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Submit(ctx, Request{Kind: KindCreateReservation, UserID: i + 1, SpotID: 5, VehicleID: 9})
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, engine.ErrSpotUnavailable) {
			t.Fatalf("lỗi không mong đợi: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("muốn đúng 1 reservation được tạo, nhận %d", wins)
	}
}

func TestStorageErrorIsSurfaced(t *testing.T) {
	c, spotRepo, _ := newTestCoordinator(freeSpot(5))
	ctx := context.Background()

	c.Submit(ctx, Request{Kind: KindCreateReservation, UserID: 1, SpotID: 5, VehicleID: 9})

	spotRepo.FailNext = errors.New("mất kết nối DB")
	_, err := c.Submit(ctx, Request{Kind: KindVehicleArrived, SpotID: 5})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("lỗi lưu trữ phải được bọc trong ErrStorage, nhận %v", err)
	}
}

// Cập nhật spot thất bại tạm thời sau khi reservation đã chuyển completed:
// retry tại chỗ phải cứu được, spot không được kẹt ở occupied.
func TestVehicleLeftRetriesSpotUpdateAfterTransition(t *testing.T) {
	c, spotRepo, _ := newTestCoordinator(freeSpot(5))
	ctx := context.Background()

	c.Submit(ctx, Request{Kind: KindCreateReservation, UserID: 1, SpotID: 5, VehicleID: 9})
	c.Submit(ctx, Request{Kind: KindVehicleArrived, SpotID: 5})

	spotRepo.FailNext = errors.New("mất kết nối DB")
	res, err := c.Submit(ctx, Request{Kind: KindVehicleLeft, SpotID: 5})
	if err != nil {
		t.Fatalf("lỗi tạm thời phải được retry cứu, nhận %v", err)
	}
	if res.Reservation.Status != domain.ReservationCompleted {
		t.Fatalf("muốn completed, nhận %s", res.Reservation.Status)
	}
	spot, _ := spotRepo.FindByID(ctx, 5)
	if spot.Status != domain.SpotFree {
		t.Fatalf("spot phải free sau retry, nhận %s", spot.Status)
	}
}

func TestCancelRetriesSpotUpdateAfterTransition(t *testing.T) {
	c, spotRepo, _ := newTestCoordinator(freeSpot(5))
	ctx := context.Background()

	created, _ := c.Submit(ctx, Request{Kind: KindCreateReservation, UserID: 1, SpotID: 5, VehicleID: 9})

	spotRepo.FailNext = errors.New("mất kết nối DB")
	res, err := c.Submit(ctx, Request{Kind: KindCancelReservation, ReservationID: created.Reservation.ID})
	if err != nil {
		t.Fatalf("lỗi tạm thời phải được retry cứu, nhận %v", err)
	}
	if res.Reservation.Status != domain.ReservationCancelled {
		t.Fatalf("muốn cancelled, nhận %s", res.Reservation.Status)
	}
	spot, _ := spotRepo.FindByID(ctx, 5)
	if spot.Status != domain.SpotFree {
		t.Fatalf("spot phải free sau retry, nhận %s", spot.Status)
	}
}

// Cả hai lần cập nhật spot đều thất bại: lỗi phải được surface dưới ErrStorage,
// không được nuốt dù reservation đã chuyển trạng thái thành công.
func TestVehicleLeftSurfacesPersistentSpotUpdateFailure(t *testing.T) {
	c, spotRepo, resvRepo := newTestCoordinator(freeSpot(5))
	ctx := context.Background()

	created, _ := c.Submit(ctx, Request{Kind: KindCreateReservation, UserID: 1, SpotID: 5, VehicleID: 9})
	c.Submit(ctx, Request{Kind: KindVehicleArrived, SpotID: 5})

	spotRepo.FailNext = errors.New("mất kết nối DB")
	spotRepo.FailTimes = 2
	_, err := c.Submit(ctx, Request{Kind: KindVehicleLeft, SpotID: 5})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("muốn ErrStorage, nhận %v", err)
	}
	resv, _ := resvRepo.FindByID(ctx, created.Reservation.ID)
	if resv.Status != domain.ReservationCompleted {
		t.Fatalf("transition đã commit: reservation phải completed, nhận %s", resv.Status)
	}
}
