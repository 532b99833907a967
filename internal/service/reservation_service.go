package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Nurihank/smart-parking-api/internal/coordinator"
	"github.com/Nurihank/smart-parking-api/internal/domain"
	"github.com/Nurihank/smart-parking-api/internal/engine"
	"github.com/Nurihank/smart-parking-api/internal/repository"
)

// SpotNotifier nhận thông báo mỗi khi một spot đổi trạng thái,
// được WebSocketManager hiện thực để push cho dashboard.
type SpotNotifier interface {
	NotifySpotStatus(n domain.SpotStatusNotification)
}

type ReservationService struct {
	coord    *coordinator.Coordinator
	resvRepo repository.ReservationRepository
	spotRepo repository.ParkingSpotRepository
	notifier SpotNotifier
}

func NewReservationService(
	coord *coordinator.Coordinator,
	resvRepo repository.ReservationRepository,
	spotRepo repository.ParkingSpotRepository,
	notifier SpotNotifier,
) *ReservationService {
	return &ReservationService{coord: coord, resvRepo: resvRepo, spotRepo: spotRepo, notifier: notifier}
}

// submit nộp request cho Coordinator, thử lại đúng một lần khi gặp lỗi lưu trữ.
func (s *ReservationService) submit(ctx context.Context, req coordinator.Request) (*coordinator.Result, error) {
	res, err := s.coord.Submit(ctx, req)
	if err != nil && errors.Is(err, coordinator.ErrStorage) {
		log.Printf("ReservationService: Lỗi lưu trữ, thử lại một lần: %v", err)
		res, err = s.coord.Submit(ctx, req)
	}
	return res, err
}

func (s *ReservationService) notifySpot(res *coordinator.Result) {
	if s.notifier == nil || res == nil {
		return
	}
	s.notifier.NotifySpotStatus(domain.SpotStatusNotification{
		SpotID:    res.SpotID,
		Status:    res.SpotStatus,
		Timestamp: time.Now().UTC(),
	})
}

func (s *ReservationService) CreateReservation(ctx context.Context, dto domain.CreateReservationDTO) (*domain.Reservation, error) {
	res, err := s.submit(ctx, coordinator.Request{
		Kind:      coordinator.KindCreateReservation,
		UserID:    dto.UserID,
		SpotID:    dto.SpotID,
		VehicleID: dto.VehicleID,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("ReservationService: Đã tạo reservation %d cho user %d tại spot %d, giữ chỗ đến %s",
		res.Reservation.ID, dto.UserID, dto.SpotID, res.Reservation.ExpectedEndTime.Format(time.RFC3339))
	s.notifySpot(res)
	return res.Reservation, nil
}

func (s *ReservationService) CancelReservation(ctx context.Context, reservationID int) (*domain.Reservation, error) {
	res, err := s.submit(ctx, coordinator.Request{
		Kind:          coordinator.KindCancelReservation,
		ReservationID: reservationID,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("ReservationService: Đã hủy reservation %d, spot %d trở về free", reservationID, res.SpotID)
	s.notifySpot(res)
	return res.Reservation, nil
}

// MarkVehicleArrived xử lý xác nhận xe đến qua API (song song với kênh cảm biến).
// Reservation giữ nguyên active, chỉ spot chuyển sang occupied.
func (s *ReservationService) MarkVehicleArrived(ctx context.Context, reservationID int) (*domain.Reservation, error) {
	resv, err := s.resvRepo.FindByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", coordinator.ErrStorage, err)
	}
	if engine.IsTerminal(resv.Status) {
		return nil, engine.ErrInvalidTransition
	}

	res, err := s.submit(ctx, coordinator.Request{
		Kind:   coordinator.KindVehicleArrived,
		SpotID: resv.SpotID,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("ReservationService: Xe của reservation %d đã đến spot %d", reservationID, resv.SpotID)
	s.notifySpot(res)
	return res.Reservation, nil
}

// MarkVehicleLeft xử lý xác nhận xe rời đi qua API: reservation chuyển completed,
// actual_end_time được ghi nhận và spot trở về free.
func (s *ReservationService) MarkVehicleLeft(ctx context.Context, reservationID int) (*domain.Reservation, int, error) {
	resv, err := s.resvRepo.FindByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("%w: %v", coordinator.ErrStorage, err)
	}
	if engine.IsTerminal(resv.Status) {
		return nil, 0, engine.ErrInvalidTransition
	}

	res, err := s.submit(ctx, coordinator.Request{
		Kind:   coordinator.KindVehicleLeft,
		SpotID: resv.SpotID,
	})
	if err != nil {
		return nil, 0, err
	}
	duration := int(res.DurationMinutes.Int64)
	log.Printf("ReservationService: Xe của reservation %d đã rời spot %d sau %d phút", reservationID, resv.SpotID, duration)
	s.notifySpot(res)
	return res.Reservation, duration, nil
}

// CheckExpiredReservations quét các reservation active đã quá expected_end_time
// và hủy từng cái qua Coordinator. Trả về số reservation đã hủy.
// Reservation bị kết thúc bởi trigger khác giữa lúc quét và lúc hủy được bỏ qua.
func (s *ReservationService) CheckExpiredReservations(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	expired, err := s.resvRepo.FindExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", coordinator.ErrStorage, err)
	}
	if len(expired) == 0 {
		return 0, nil
	}
	log.Printf("ReservationService: Tìm thấy %d reservation hết hạn", len(expired))

	var cancelled int
	var firstErr error
	for _, resv := range expired {
		res, err := s.submit(ctx, coordinator.Request{
			Kind:          coordinator.KindExpireReservation,
			ReservationID: resv.ID,
		})
		if err != nil {
			if errors.Is(err, engine.ErrInvalidTransition) || errors.Is(err, engine.ErrNotExpired) || errors.Is(err, repository.ErrNotFound) {
				// Một trigger khác đã xử lý reservation này trước
				continue
			}
			log.Printf("ReservationService: Lỗi hủy reservation hết hạn %d: %v", resv.ID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		log.Printf("ReservationService: Reservation %d hết hạn, đã hủy và trả spot %d về free", resv.ID, res.SpotID)
		s.notifySpot(res)
		cancelled++
	}
	return cancelled, firstErr
}

func (s *ReservationService) GetActiveReservations(ctx context.Context) ([]domain.Reservation, error) {
	return s.resvRepo.FindAllActive(ctx)
}

func (s *ReservationService) GetUserReservations(ctx context.Context, userID int) ([]domain.Reservation, error) {
	return s.resvRepo.FindByUser(ctx, userID)
}

func (s *ReservationService) GetUserActiveReservation(ctx context.Context, userID int) (*domain.Reservation, error) {
	return s.resvRepo.FindActiveByUser(ctx, userID)
}

func (s *ReservationService) GetSpotStatuses(ctx context.Context) ([]domain.ParkingSpot, error) {
	return s.spotRepo.FindAll(ctx)
}
