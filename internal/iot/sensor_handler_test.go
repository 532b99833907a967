package iot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Nurihank/smart-parking-api/internal/coordinator"
	"github.com/Nurihank/smart-parking-api/internal/domain"
	"github.com/Nurihank/smart-parking-api/internal/repository/memory"
)

type publishedMessage struct {
	SpotID  int
	Channel string
	Payload domain.SpotChannelPayload
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
}

func (f *fakePublisher) PublishToSpot(ctx context.Context, spotID int, channel string, payload domain.SpotChannelPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, publishedMessage{SpotID: spotID, Channel: channel, Payload: payload})
	return nil
}

func (f *fakePublisher) last(t *testing.T) publishedMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		t.Fatal("chưa có message nào được publish")
	}
	return f.messages[len(f.messages)-1]
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func newTestHandler(spots ...*domain.ParkingSpot) (*SensorEventHandler, *coordinator.Coordinator, *memory.SpotRepo, *memory.ReservationRepo, *fakePublisher) {
	spotRepo := memory.NewSpotRepo(spots...)
	resvRepo := memory.NewReservationRepo()
	coord := coordinator.New(spotRepo, resvRepo, 10*time.Minute)
	publisher := &fakePublisher{}
	handler := NewSensorEventHandler(coord, publisher, nil, "parking")
	return handler, coord, spotRepo, resvRepo, publisher
}

func detectedBody(spotID int) string {
	return fmt.Sprintf(`{"received_mqtt_topic":"parking/spot/%d/vehicle/detected"}`, spotID)
}

func leftBody(spotID int) string {
	return fmt.Sprintf(`{"received_mqtt_topic":"parking/spot/%d/vehicle/left"}`, spotID)
}

func TestHandleVehicleDetectedMatched(t *testing.T) {
	handler, coord, spotRepo, _, publisher := newTestHandler(&domain.ParkingSpot{ID: 5, Status: domain.SpotFree})
	ctx := context.Background()

	created, err := coord.Submit(ctx, coordinator.Request{Kind: coordinator.KindCreateReservation, UserID: 1, SpotID: 5, VehicleID: 2})
	if err != nil {
		t.Fatalf("không tạo được reservation: %v", err)
	}

	if err := handler.HandleMessage(ctx, detectedBody(5)); err != nil {
		t.Fatalf("không muốn lỗi, nhận %v", err)
	}

	spot, _ := spotRepo.FindByID(ctx, 5)
	if spot.Status != domain.SpotOccupied {
		t.Fatalf("muốn spot occupied, nhận %s", spot.Status)
	}

	msg := publisher.last(t)
	if msg.Channel != "confirmation" || msg.Payload.Status != "vehicle_arrived" {
		t.Fatalf("muốn confirmation vehicle_arrived, nhận %+v", msg)
	}
	if msg.Payload.ReservationID != created.Reservation.ID {
		t.Fatalf("confirmation phải kèm reservation_id %d, nhận %d", created.Reservation.ID, msg.Payload.ReservationID)
	}
	if msg.Payload.Timestamp == "" {
		t.Fatalf("payload phải có timestamp")
	}
}

func TestHandleVehicleDetectedUnmatched(t *testing.T) {
	handler, _, spotRepo, _, publisher := newTestHandler(&domain.ParkingSpot{ID: 7, Status: domain.SpotFree})
	ctx := context.Background()

	if err := handler.HandleMessage(ctx, detectedBody(7)); err != nil {
		t.Fatalf("không muốn lỗi, nhận %v", err)
	}

	// Spot vẫn chuyển sang occupied dù không có reservation
	spot, _ := spotRepo.FindByID(ctx, 7)
	if spot.Status != domain.SpotOccupied {
		t.Fatalf("muốn spot occupied, nhận %s", spot.Status)
	}

	msg := publisher.last(t)
	if msg.Channel != "warning" || msg.Payload.Status != "no_reservation" {
		t.Fatalf("muốn warning no_reservation, nhận %+v", msg)
	}
	if msg.Payload.ReservationID != 0 {
		t.Fatalf("warning không được kèm reservation_id, nhận %d", msg.Payload.ReservationID)
	}
}

func TestHandleVehicleLeft(t *testing.T) {
	handler, coord, spotRepo, _, publisher := newTestHandler(&domain.ParkingSpot{ID: 5, Status: domain.SpotFree})
	ctx := context.Background()

	created, _ := coord.Submit(ctx, coordinator.Request{Kind: coordinator.KindCreateReservation, UserID: 1, SpotID: 5, VehicleID: 2})
	handler.HandleMessage(ctx, detectedBody(5))

	if err := handler.HandleMessage(ctx, leftBody(5)); err != nil {
		t.Fatalf("không muốn lỗi, nhận %v", err)
	}

	spot, _ := spotRepo.FindByID(ctx, 5)
	if spot.Status != domain.SpotFree {
		t.Fatalf("muốn spot free, nhận %s", spot.Status)
	}

	msg := publisher.last(t)
	if msg.Channel != "confirmation" || msg.Payload.Status != "vehicle_left" {
		t.Fatalf("muốn confirmation vehicle_left, nhận %+v", msg)
	}
	if msg.Payload.ReservationID != created.Reservation.ID {
		t.Fatalf("confirmation phải kèm reservation_id %d, nhận %d", created.Reservation.ID, msg.Payload.ReservationID)
	}
}

// Xe rời spot không có reservation active: xử lý xong (message được xóa),
// không publish gì.
func TestHandleVehicleLeftWithoutReservation(t *testing.T) {
	handler, _, _, _, publisher := newTestHandler(&domain.ParkingSpot{ID: 5, Status: domain.SpotFree})

	if err := handler.HandleMessage(context.Background(), leftBody(5)); err != nil {
		t.Fatalf("no-op lành tính không được trả lỗi, nhận %v", err)
	}
	if publisher.count() != 0 {
		t.Fatalf("không được publish gì, nhận %d message", publisher.count())
	}
}

func TestHandleMalformedMessage(t *testing.T) {
	handler, _, _, _, publisher := newTestHandler(&domain.ParkingSpot{ID: 5, Status: domain.SpotFree})

	bodies := []string{
		`không phải json`,
		`{"received_mqtt_topic":"parking/spot/abc/vehicle/detected"}`,
		`{"received_mqtt_topic":"other/spot/5/vehicle/detected"}`,
	}
	for _, body := range bodies {
		if err := handler.HandleMessage(context.Background(), body); err != nil {
			t.Fatalf("message malformed phải được bỏ qua, nhận lỗi %v", err)
		}
	}
	if publisher.count() != 0 {
		t.Fatalf("không được publish gì cho message malformed")
	}
}

func TestHandleUnknownSpot(t *testing.T) {
	handler, _, _, _, publisher := newTestHandler()

	if err := handler.HandleMessage(context.Background(), detectedBody(42)); err != nil {
		t.Fatalf("spot không tồn tại phải được bỏ qua, nhận lỗi %v", err)
	}
	if publisher.count() != 0 {
		t.Fatalf("không được publish gì cho spot không tồn tại")
	}
}

func TestHandleStatusUpdate(t *testing.T) {
	handler, _, spotRepo, _, publisher := newTestHandler(&domain.ParkingSpot{ID: 3, Status: domain.SpotFree})
	ctx := context.Background()

	body := `{"received_mqtt_topic":"parking/spot/3/status","payload":{"status":"online"}}`
	if err := handler.HandleMessage(ctx, body); err != nil {
		t.Fatalf("không muốn lỗi, nhận %v", err)
	}
	// Status update chỉ được log, không đổi trạng thái spot
	spot, _ := spotRepo.FindByID(ctx, 3)
	if spot.Status != domain.SpotFree {
		t.Fatalf("status update không được đổi trạng thái spot, nhận %s", spot.Status)
	}
	if publisher.count() != 0 {
		t.Fatalf("status update không được publish phản hồi")
	}
}

// Lỗi lưu trữ kéo dài qua cả lần retry: handler trả lỗi để message được redeliver.
func TestHandleMessageStorageFailure(t *testing.T) {
	handler, _, spotRepo, _, _ := newTestHandler(&domain.ParkingSpot{ID: 5, Status: domain.SpotFree})

	spotRepo.FailNext = errors.New("mất kết nối DB")
	spotRepo.FailTimes = 2
	err := handler.HandleMessage(context.Background(), detectedBody(5))
	if !errors.Is(err, coordinator.ErrStorage) {
		t.Fatalf("muốn ErrStorage để message được redeliver, nhận %v", err)
	}
}
