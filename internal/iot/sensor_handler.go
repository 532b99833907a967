package iot

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/Nurihank/smart-parking-api/internal/coordinator"
	"github.com/Nurihank/smart-parking-api/internal/domain"
	"github.com/Nurihank/smart-parking-api/internal/engine"
	"github.com/Nurihank/smart-parking-api/internal/repository"
)

// Interface cho WebSocket Manager để tránh circular dependency
type SpotNotifier interface {
	NotifySpotStatus(n domain.SpotStatusNotification)
}

// SensorEventHandler chuyển sự kiện cảm biến thành request cho Coordinator
// và publish phản hồi (confirmation/warning) về kênh cảm biến của spot.
type SensorEventHandler struct {
	coord     *coordinator.Coordinator
	publisher SpotChannelPublisher
	notifier  SpotNotifier
	namespace string
}

func NewSensorEventHandler(coord *coordinator.Coordinator, publisher SpotChannelPublisher, notifier SpotNotifier, namespace string) *SensorEventHandler {
	return &SensorEventHandler{coord: coord, publisher: publisher, notifier: notifier, namespace: namespace}
}

// HandleMessage xử lý một message body từ queue. Trả về nil nghĩa là message
// xử lý xong (kể cả malformed và no-op lành tính) và được xóa khỏi queue;
// trả về error nghĩa là lỗi lưu trữ, message sẽ được redeliver sau visibility timeout.
func (h *SensorEventHandler) HandleMessage(ctx context.Context, body string) error {
	evt := ParseSensorMessage(h.namespace, body)

	switch evt.Kind {
	case domain.SensorEventMalformed:
		log.Printf("SensorEventHandler: Bỏ qua message malformed (topic '%s'): %s", evt.Topic, evt.Reason)
		return nil
	case domain.SensorEventVehicleDetected:
		return h.handleVehicleDetected(ctx, evt)
	case domain.SensorEventVehicleLeft:
		return h.handleVehicleLeft(ctx, evt)
	case domain.SensorEventStatusUpdate:
		log.Printf("SensorEventHandler: Status update từ spot %d: status='%s' message='%s'", evt.SpotID, evt.Status, evt.Message)
		return nil
	}
	return nil
}

func (h *SensorEventHandler) handleVehicleDetected(ctx context.Context, evt domain.SensorEvent) error {
	res, err := h.submit(ctx, coordinator.Request{
		Kind:   coordinator.KindVehicleArrived,
		SpotID: evt.SpotID,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Printf("SensorEventHandler: Sự kiện từ spot %d không tồn tại, bỏ qua", evt.SpotID)
			return nil
		}
		return err
	}
	h.notifySpot(res)

	if res.Unmatched {
		log.Printf("SensorEventHandler: Xe đến spot %d nhưng không có reservation active", evt.SpotID)
		h.publish(ctx, evt.SpotID, "warning", domain.SpotChannelPayload{
			Status:    "no_reservation",
			Message:   "Xe đỗ vào spot không có reservation",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return nil
	}

	log.Printf("SensorEventHandler: Xe của reservation %d đã đến spot %d", res.Reservation.ID, evt.SpotID)
	h.publish(ctx, evt.SpotID, "confirmation", domain.SpotChannelPayload{
		Status:        "vehicle_arrived",
		ReservationID: res.Reservation.ID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

func (h *SensorEventHandler) handleVehicleLeft(ctx context.Context, evt domain.SensorEvent) error {
	res, err := h.submit(ctx, coordinator.Request{
		Kind:   coordinator.KindVehicleLeft,
		SpotID: evt.SpotID,
	})
	if err != nil {
		if errors.Is(err, engine.ErrInvalidTransition) {
			// Xe rời spot không có reservation active (ví dụ reservation vừa bị
			// expiry sweep hủy): no-op lành tính
			log.Printf("SensorEventHandler: Xe rời spot %d không có reservation active, bỏ qua", evt.SpotID)
			return nil
		}
		if errors.Is(err, repository.ErrNotFound) {
			log.Printf("SensorEventHandler: Sự kiện từ spot %d không tồn tại, bỏ qua", evt.SpotID)
			return nil
		}
		return err
	}
	h.notifySpot(res)

	log.Printf("SensorEventHandler: Xe của reservation %d đã rời spot %d sau %d phút",
		res.Reservation.ID, evt.SpotID, res.DurationMinutes.Int64)
	h.publish(ctx, evt.SpotID, "confirmation", domain.SpotChannelPayload{
		Status:        "vehicle_left",
		ReservationID: res.Reservation.ID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

// submit nộp request cho Coordinator, thử lại đúng một lần khi gặp lỗi lưu trữ.
func (h *SensorEventHandler) submit(ctx context.Context, req coordinator.Request) (*coordinator.Result, error) {
	res, err := h.coord.Submit(ctx, req)
	if err != nil && errors.Is(err, coordinator.ErrStorage) {
		log.Printf("SensorEventHandler: Lỗi lưu trữ, thử lại một lần: %v", err)
		res, err = h.coord.Submit(ctx, req)
	}
	return res, err
}

// publish không bao giờ làm thất bại việc xử lý message: transition đã được
// commit, lỗi publish chỉ được log.
func (h *SensorEventHandler) publish(ctx context.Context, spotID int, channel string, payload domain.SpotChannelPayload) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.PublishToSpot(ctx, spotID, channel, payload); err != nil {
		log.Printf("SensorEventHandler: Lỗi publish %s cho spot %d: %v", channel, spotID, err)
	}
}

func (h *SensorEventHandler) notifySpot(res *coordinator.Result) {
	if h.notifier == nil || res == nil {
		return
	}
	h.notifier.NotifySpotStatus(domain.SpotStatusNotification{
		SpotID:    res.SpotID,
		Status:    res.SpotStatus,
		Timestamp: time.Now().UTC(),
	})
}
