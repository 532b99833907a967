// Package scheduler chạy quét định kỳ các reservation hết hạn.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// ExpiryChecker được ReservationService hiện thực.
type ExpiryChecker interface {
	CheckExpiredReservations(ctx context.Context) (int, error)
}

// SchedulerStatus là snapshot trạng thái cho endpoint giám sát hệ thống.
type SchedulerStatus struct {
	Running         bool      `json:"running"`
	IntervalSeconds int       `json:"interval_seconds"`
	LastRunAt       time.Time `json:"last_run_at"`
	LastCancelled   int       `json:"last_cancelled_count"`
}

// ExpiryScheduler đánh thức theo chu kỳ cố định và gọi ExpiryChecker.
// Nếu một lần quét còn đang chạy khi tick kế tiếp đến, tick đó bị bỏ qua
// thay vì chạy chồng lên nhau.
type ExpiryScheduler struct {
	checker  ExpiryChecker
	interval time.Duration

	runMu sync.Mutex // giữ trong suốt một lần quét

	mu            sync.Mutex
	running       bool
	cancel        context.CancelFunc
	done          chan struct{}
	lastRunAt     time.Time
	lastCancelled int
}

func NewExpiryScheduler(checker ExpiryChecker, interval time.Duration) *ExpiryScheduler {
	return &ExpiryScheduler{checker: checker, interval: interval}
}

func (s *ExpiryScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	log.Printf("ExpiryScheduler: Bắt đầu quét reservation hết hạn mỗi %v", s.interval)
	go s.loop(runCtx)
}

func (s *ExpiryScheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("ExpiryScheduler: context cancelled, stopping.")
			return
		case <-ticker.C:
			if !s.runMu.TryLock() {
				log.Println("ExpiryScheduler: Lần quét trước còn đang chạy, bỏ qua tick này")
				continue
			}
			s.runSweep(ctx)
			s.runMu.Unlock()
		}
	}
}

// CheckNow chạy một lần quét ngay lập tức (dùng cho endpoint kích hoạt thủ công),
// dùng chung đường xử lý và khóa với các tick định kỳ.
func (s *ExpiryScheduler) CheckNow(ctx context.Context) (int, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.runSweep(ctx)
}

func (s *ExpiryScheduler) runSweep(ctx context.Context) (int, error) {
	cancelled, err := s.checker.CheckExpiredReservations(ctx)
	if err != nil {
		log.Printf("ExpiryScheduler: Lỗi khi quét reservation hết hạn: %v", err)
	}

	s.mu.Lock()
	s.lastRunAt = time.Now().UTC()
	s.lastCancelled = cancelled
	s.mu.Unlock()
	return cancelled, err
}

func (s *ExpiryScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	log.Println("ExpiryScheduler: Đã dừng.")
}

func (s *ExpiryScheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStatus{
		Running:         s.running,
		IntervalSeconds: int(s.interval.Seconds()),
		LastRunAt:       s.lastRunAt,
		LastCancelled:   s.lastCancelled,
	}
}
