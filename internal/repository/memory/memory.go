// Package memory là hiện thực in-memory của các repository, dùng cho test
// của coordinator/service/scheduler. Giữ đúng hợp đồng sentinel của tầng
// repository (ErrNotFound, ErrNoActiveReservation, ErrStaleStatus...).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Nurihank/smart-parking-api/internal/domain"
	"github.com/Nurihank/smart-parking-api/internal/repository"

	"gopkg.in/guregu/null.v4"
)

type SpotRepo struct {
	mu    sync.Mutex
	spots map[int]*domain.ParkingSpot
	log   []domain.SpotStatusLogEntry

	// FailNext làm lần gọi ghi kế tiếp thất bại, để test đường lỗi lưu trữ.
	// FailTimes > 1 làm nhiều lần ghi liên tiếp thất bại.
	FailNext  error
	FailTimes int
}

func NewSpotRepo(spots ...*domain.ParkingSpot) *SpotRepo {
	r := &SpotRepo{spots: make(map[int]*domain.ParkingSpot)}
	for _, s := range spots {
		cp := *s
		r.spots[s.ID] = &cp
	}
	return r
}

func (r *SpotRepo) FindByID(ctx context.Context, id int) (*domain.ParkingSpot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.spots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *SpotRepo) FindAll(ctx context.Context) ([]domain.ParkingSpot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ParkingSpot, 0, len(r.spots))
	for _, s := range r.spots {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *SpotRepo) UpdateStatus(ctx context.Context, id int, status domain.SpotStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	s, ok := r.spots[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	r.log = append(r.log, domain.SpotStatusLogEntry{
		ID: int64(len(r.log) + 1), SpotID: id, Status: status, LoggedAt: s.UpdatedAt,
	})
	return nil
}

func (r *SpotRepo) UpdateStatusIf(ctx context.Context, id int, expected, next domain.SpotStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	s, ok := r.spots[id]
	if !ok {
		return repository.ErrNotFound
	}
	if s.Status != expected {
		return repository.ErrStaleStatus
	}
	s.Status = next
	s.UpdatedAt = time.Now().UTC()
	r.log = append(r.log, domain.SpotStatusLogEntry{
		ID: int64(len(r.log) + 1), SpotID: id, Status: next, LoggedAt: s.UpdatedAt,
	})
	return nil
}

// StatusLog trả về bản sao log để test kiểm tra thứ tự transition.
func (r *SpotRepo) StatusLog(spotID int) []domain.SpotStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SpotStatus
	for _, e := range r.log {
		if e.SpotID == spotID {
			out = append(out, e.Status)
		}
	}
	return out
}

func (r *SpotRepo) takeFailure() error {
	if r.FailNext == nil {
		return nil
	}
	err := r.FailNext
	if r.FailTimes > 1 {
		r.FailTimes--
	} else {
		r.FailNext = nil
		r.FailTimes = 0
	}
	return err
}

type ReservationRepo struct {
	mu           sync.Mutex
	reservations map[int]*domain.Reservation
	nextID       int

	FailNext  error
	FailTimes int
}

func NewReservationRepo(reservations ...*domain.Reservation) *ReservationRepo {
	r := &ReservationRepo{reservations: make(map[int]*domain.Reservation), nextID: 1}
	for _, resv := range reservations {
		cp := *resv
		r.reservations[resv.ID] = &cp
		if resv.ID >= r.nextID {
			r.nextID = resv.ID + 1
		}
	}
	return r
}

func (r *ReservationRepo) Create(ctx context.Context, resv *domain.Reservation) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return nil, err
	}
	for _, existing := range r.reservations {
		if existing.UserID == resv.UserID && existing.Status == domain.ReservationActive {
			return nil, fmt.Errorf("%w: user %d đã có reservation active", repository.ErrDuplicateEntry, resv.UserID)
		}
	}
	cp := *resv
	cp.ID = r.nextID
	r.nextID++
	now := time.Now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.reservations[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *ReservationRepo) FindByID(ctx context.Context, id int) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	resv, ok := r.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *resv
	return &cp, nil
}

func (r *ReservationRepo) FindActiveByUser(ctx context.Context, userID int) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, resv := range r.reservations {
		if resv.UserID == userID && resv.Status == domain.ReservationActive {
			cp := *resv
			return &cp, nil
		}
	}
	return nil, repository.ErrNoActiveReservation
}

func (r *ReservationRepo) FindActiveBySpot(ctx context.Context, spotID int) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, resv := range r.reservations {
		if resv.SpotID == spotID && resv.Status == domain.ReservationActive {
			cp := *resv
			return &cp, nil
		}
	}
	return nil, repository.ErrNoActiveReservation
}

func (r *ReservationRepo) FindAllActive(ctx context.Context) ([]domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Reservation
	for _, resv := range r.reservations {
		if resv.Status == domain.ReservationActive {
			out = append(out, *resv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ReservationRepo) FindByUser(ctx context.Context, userID int) ([]domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Reservation
	for _, resv := range r.reservations {
		if resv.UserID == userID {
			out = append(out, *resv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ReservationRepo) FindExpired(ctx context.Context, now time.Time) ([]domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Reservation
	for _, resv := range r.reservations {
		if resv.Status == domain.ReservationActive && resv.ExpectedEndTime.Before(now) && !resv.ActualEndTime.Valid {
			out = append(out, *resv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ReservationRepo) Transition(ctx context.Context, id int, from, to domain.ReservationStatus, actualEnd null.Time) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return nil, err
	}
	resv, ok := r.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if resv.Status != from {
		return nil, repository.ErrStaleStatus
	}
	resv.Status = to
	resv.ActualEndTime = actualEnd
	resv.UpdatedAt = time.Now().UTC()
	cp := *resv
	return &cp, nil
}

func (r *ReservationRepo) takeFailure() error {
	if r.FailNext == nil {
		return nil
	}
	err := r.FailNext
	if r.FailTimes > 1 {
		r.FailTimes--
	} else {
		r.FailNext = nil
		r.FailTimes = 0
	}
	return err
}
