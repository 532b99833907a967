package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Nurihank/smart-parking-api/internal/scheduler"

	"github.com/gin-gonic/gin"
)

type blockingChecker struct {
	mu    sync.Mutex
	calls int
	block chan struct{} // nếu khác nil, lần quét chờ channel đóng
}

func (f *blockingChecker) CheckExpiredReservations(ctx context.Context) (int, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return 1, nil
}

func (f *blockingChecker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func performCheckExpired(h *ReservationHandler) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/reservations/check-expired", nil)
	h.CheckExpired(c)
	return w
}

// Quét thủ công qua endpoint phải đi qua khóa chống chạy chồng của scheduler:
// khi một lần quét đang chạy, request phải chờ chứ không chạy song song.
func TestCheckExpiredGoesThroughSweepGuard(t *testing.T) {
	gin.SetMode(gin.TestMode)
	block := make(chan struct{})
	checker := &blockingChecker{block: block}
	s := scheduler.NewExpiryScheduler(checker, time.Hour)
	h := NewReservationHandler(nil, s)

	// Một lần quét đang chạy (bị chặn), giữ khóa của scheduler
	go s.CheckNow(context.Background())
	deadline := time.After(2 * time.Second)
	for checker.callCount() < 1 {
		select {
		case <-deadline:
			t.Fatalf("lần quét đầu không bắt đầu")
		case <-time.After(5 * time.Millisecond):
		}
	}

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- performCheckExpired(h) }()

	select {
	case <-done:
		t.Fatalf("request check-expired không được chạy khi lần quét trước chưa xong")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	select {
	case w := <-done:
		if w.Code != http.StatusOK {
			t.Fatalf("muốn status 200, nhận %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "cancelled_reservations") {
			t.Fatalf("body phải chứa cancelled_reservations, nhận %s", w.Body.String())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("request check-expired phải chạy sau khi lần quét trước xong")
	}

	if checker.callCount() != 2 {
		t.Fatalf("muốn 2 lần quét tuần tự, nhận %d", checker.callCount())
	}
}

func TestCheckExpiredReportsCount(t *testing.T) {
	gin.SetMode(gin.TestMode)
	checker := &blockingChecker{}
	h := NewReservationHandler(nil, scheduler.NewExpiryScheduler(checker, time.Hour))

	w := performCheckExpired(h)
	if w.Code != http.StatusOK {
		t.Fatalf("muốn status 200, nhận %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"cancelled_reservations":1`) {
		t.Fatalf("body phải báo số reservation đã hủy, nhận %s", w.Body.String())
	}
	if checker.callCount() != 1 {
		t.Fatalf("muốn đúng 1 lần quét, nhận %d", checker.callCount())
	}
}
