package domain

import "encoding/json"

// SensorIngressMessage là body SQS do IoT Rule chuyển tiếp từ MQTT.
// Rule giữ nguyên payload của cảm biến và thêm received_mqtt_topic / client_id_iot.
type SensorIngressMessage struct {
	ReceivedMqttTopic      string          `json:"received_mqtt_topic"`
	ClientIDFromIoT        string          `json:"client_id_iot,omitempty"`
	IotProcessingTimestamp int64           `json:"iot_processing_timestamp,omitempty"`
	Payload                json.RawMessage `json:"payload,omitempty"`
}

type SensorEventKind int

const (
	SensorEventMalformed SensorEventKind = iota
	SensorEventVehicleDetected
	SensorEventVehicleLeft
	SensorEventStatusUpdate
)

func (k SensorEventKind) String() string {
	switch k {
	case SensorEventVehicleDetected:
		return "vehicle_detected"
	case SensorEventVehicleLeft:
		return "vehicle_left"
	case SensorEventStatusUpdate:
		return "status_update"
	}
	return "malformed"
}

// SensorEvent là kết quả decode một message từ kênh cảm biến.
// Kind = SensorEventMalformed thì chỉ có Topic và Reason, các trường khác không dùng được.
type SensorEvent struct {
	Kind    SensorEventKind
	SpotID  int
	Topic   string
	Status  string // Trường "status" trong payload (nếu có), cho status update
	Message string // Payload dạng string thô khi không phải JSON
	Reason  string // Lý do message bị coi là malformed
}

// SpotChannelPayload là payload JSON publish ngược về kênh cảm biến
// trên topic .../confirmation hoặc .../warning.
type SpotChannelPayload struct {
	Status        string `json:"status"`
	ReservationID int    `json:"reservation_id,omitempty"`
	Message       string `json:"message,omitempty"`
	Timestamp     string `json:"timestamp"`
}
