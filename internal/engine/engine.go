// Package engine chứa toàn bộ luật chuyển trạng thái của cặp máy trạng thái
// reservation/spot. Chỉ là logic thuần, không I/O: Coordinator quyết định
// bằng engine rồi mới ghi xuống repository.
package engine

import (
	"errors"
	"math"
	"time"

	"github.com/Nurihank/smart-parking-api/internal/domain"
)

// ErrInvalidTransition: reservation đã ở trạng thái kết thúc (completed/cancelled)
// hoặc không tồn tại transition hợp lệ từ trạng thái hiện tại.
// Các adapter phải coi lỗi này là no-op lành tính khi nó xuất phát từ race
// (hai trigger cùng nhắm một reservation), không phải lỗi nghiêm trọng.
var ErrInvalidTransition = errors.New("reservation đã kết thúc, không thể chuyển trạng thái")

// ErrSpotUnavailable: spot không ở trạng thái free nên không thể tạo reservation.
var ErrSpotUnavailable = errors.New("chỗ đỗ không ở trạng thái trống")

// ErrDuplicateActive: user đã có một reservation active.
var ErrDuplicateActive = errors.New("user đã có một reservation đang hoạt động")

// ErrNotExpired: reservation chưa quá expected_end_time nên expiry sweep không được đụng vào.
var ErrNotExpired = errors.New("reservation chưa hết hạn")

func IsTerminal(s domain.ReservationStatus) bool {
	return s == domain.ReservationCompleted || s == domain.ReservationCancelled
}

// ValidateReservationTransition: active -> {completed, cancelled} là hai transition
// hợp lệ duy nhất; mọi transition ra khỏi trạng thái kết thúc đều bị từ chối.
func ValidateReservationTransition(from, to domain.ReservationStatus) error {
	if from != domain.ReservationActive {
		return ErrInvalidTransition
	}
	if !IsTerminal(to) {
		return ErrInvalidTransition
	}
	return nil
}

// CanCreateReservation kiểm tra tiền điều kiện của trigger tạo reservation:
// user chưa có reservation active và spot đang free.
func CanCreateReservation(spot *domain.ParkingSpot, existingActive *domain.Reservation) error {
	if existingActive != nil {
		return ErrDuplicateActive
	}
	if spot.Status != domain.SpotFree {
		return ErrSpotUnavailable
	}
	return nil
}

// ArrivalDecision là kết quả cho trigger vehicle-detected.
type ArrivalDecision struct {
	SpotStatus domain.SpotStatus
	// Unmatched = true: cảm biến báo có xe nhưng spot không có reservation active.
	// Spot vẫn chuyển sang occupied, không reservation nào được tạo hay sửa,
	// và phía cảm biến nhận một warning.
	Unmatched bool
}

// DecideArrival: spot luôn chuyển sang occupied khi cảm biến phát hiện xe.
// Reservation (nếu có) giữ nguyên active, actual_end_time chưa đặt.
func DecideArrival(active *domain.Reservation) ArrivalDecision {
	return ArrivalDecision{
		SpotStatus: domain.SpotOccupied,
		Unmatched:  active == nil,
	}
}

// DepartureDecision là hiệu ứng của trigger vehicle-left lên reservation active của spot.
type DepartureDecision struct {
	ReservationStatus domain.ReservationStatus // luôn là completed
	ActualEndTime     time.Time
	DurationMinutes   int
	SpotStatus        domain.SpotStatus // luôn là free
}

func DecideDeparture(resv *domain.Reservation, now time.Time) (DepartureDecision, error) {
	if err := ValidateReservationTransition(resv.Status, domain.ReservationCompleted); err != nil {
		return DepartureDecision{}, err
	}
	return DepartureDecision{
		ReservationStatus: domain.ReservationCompleted,
		ActualEndTime:     now,
		DurationMinutes:   ParkingDurationMinutes(resv.StartTime, now),
		SpotStatus:        domain.SpotFree,
	}, nil
}

// CancelDecision là hiệu ứng của manual cancel hoặc expiry sweep.
type CancelDecision struct {
	ReservationStatus domain.ReservationStatus // luôn là cancelled
	SpotStatus        domain.SpotStatus        // luôn là free
}

func DecideCancel(resv *domain.Reservation) (CancelDecision, error) {
	if err := ValidateReservationTransition(resv.Status, domain.ReservationCancelled); err != nil {
		return CancelDecision{}, err
	}
	return CancelDecision{
		ReservationStatus: domain.ReservationCancelled,
		SpotStatus:        domain.SpotFree,
	}, nil
}

// DecideExpiry chỉ chấp nhận reservation active đã quá expected_end_time
// (so sánh strict) và chưa ghi nhận actual_end_time.
func DecideExpiry(resv *domain.Reservation, now time.Time) (CancelDecision, error) {
	if err := ValidateReservationTransition(resv.Status, domain.ReservationCancelled); err != nil {
		return CancelDecision{}, err
	}
	if !IsExpired(resv, now) {
		return CancelDecision{}, ErrNotExpired
	}
	return CancelDecision{
		ReservationStatus: domain.ReservationCancelled,
		SpotStatus:        domain.SpotFree,
	}, nil
}

func IsExpired(resv *domain.Reservation, now time.Time) bool {
	return resv.Status == domain.ReservationActive &&
		resv.ExpectedEndTime.Before(now) &&
		!resv.ActualEndTime.Valid
}

// ParkingDurationMinutes tính thời gian đỗ theo phút tròn, làm tròn đến phút gần nhất.
func ParkingDurationMinutes(start, end time.Time) int {
	return int(math.Round(end.Sub(start).Minutes()))
}
