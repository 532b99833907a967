package iot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Nurihank/smart-parking-api/internal/domain"
)

// ParseSensorMessage decode một message body từ kênh cảm biến thành SensorEvent.
// Topic hợp lệ có dạng:
//
//	<namespace>/spot/<id>/vehicle/detected
//	<namespace>/spot/<id>/vehicle/left
//	<namespace>/spot/<id>/status
//
// Mọi message không decode được trả về Kind = SensorEventMalformed kèm Reason;
// caller log và bỏ qua, không bao giờ làm sập consumer.
func ParseSensorMessage(namespace, body string) domain.SensorEvent {
	var msg domain.SensorIngressMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return malformed("", fmt.Sprintf("body không phải JSON hợp lệ: %v", err))
	}
	if msg.ReceivedMqttTopic == "" {
		return malformed("", "thiếu trường received_mqtt_topic")
	}
	topic := msg.ReceivedMqttTopic

	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[0] != namespace || parts[1] != "spot" {
		return malformed(topic, "topic không thuộc namespace cảm biến")
	}

	spotID, err := strconv.Atoi(parts[2])
	if err != nil || spotID <= 0 {
		return malformed(topic, fmt.Sprintf("spot id '%s' không phải số hợp lệ", parts[2]))
	}

	evt := domain.SensorEvent{SpotID: spotID, Topic: topic}
	suffix := strings.Join(parts[3:], "/")
	switch suffix {
	case "vehicle/detected":
		evt.Kind = domain.SensorEventVehicleDetected
	case "vehicle/left":
		evt.Kind = domain.SensorEventVehicleLeft
	case "status":
		evt.Kind = domain.SensorEventStatusUpdate
		// Payload của status update có thể là JSON {"status": ...} hoặc string thô
		var statusPayload struct {
			Status string `json:"status"`
		}
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &statusPayload); err == nil && statusPayload.Status != "" {
				evt.Status = statusPayload.Status
			} else {
				evt.Message = string(msg.Payload)
			}
		}
	default:
		return malformed(topic, fmt.Sprintf("hậu tố topic '%s' không được hỗ trợ", suffix))
	}
	return evt
}

func malformed(topic, reason string) domain.SensorEvent {
	return domain.SensorEvent{Kind: domain.SensorEventMalformed, Topic: topic, Reason: reason}
}
