package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Nurihank/smart-parking-api/internal/iot"
	"github.com/Nurihank/smart-parking-api/internal/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SystemHandler phục vụ các endpoint giám sát và vận hành hệ thống.
type SystemHandler struct {
	expiryScheduler *scheduler.ExpiryScheduler
	publisher       *iot.IoTDataPublisher
	startedAt       time.Time
}

func NewSystemHandler(expiryScheduler *scheduler.ExpiryScheduler, publisher *iot.IoTDataPublisher) *SystemHandler {
	return &SystemHandler{
		expiryScheduler: expiryScheduler,
		publisher:       publisher,
		startedAt:       time.Now().UTC(),
	}
}

func (h *SystemHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"started_at":       h.startedAt.Format(time.RFC3339),
		"uptime_seconds":   int(time.Since(h.startedAt).Seconds()),
		"expiry_scheduler": h.expiryScheduler.Status(),
		"mqtt_enabled":     h.publisher != nil,
	})
}

// CheckReservations kích hoạt quét reservation hết hạn ngay lập tức,
// dùng chung khóa với các tick định kỳ của scheduler.
func (h *SystemHandler) CheckReservations(c *gin.Context) {
	cancelled, err := h.expiryScheduler.CheckNow(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":                  "Lỗi khi quét reservation hết hạn",
			"cancelled_reservations": cancelled,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":                "Đã quét reservation hết hạn",
		"cancelled_reservations": cancelled,
	})
}

type mqttTestRequest struct {
	Topic   string          `json:"topic" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

// TestMQTT publish một message test lên broker để kiểm tra kết nối IoT.
func (h *SystemHandler) TestMQTT(c *gin.Context) {
	if h.publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Kênh MQTT chưa được cấu hình"})
		return
	}

	var req mqttTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dữ liệu không hợp lệ: " + err.Error()})
		return
	}

	requestID := uuid.NewString()
	payload := req.Payload
	if len(payload) == 0 {
		payload, _ = json.Marshal(gin.H{
			"message":    "test",
			"request_id": requestID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		})
	}

	if err := h.publisher.PublishRaw(c.Request.Context(), req.Topic, payload); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi publish MQTT", "request_id": requestID})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Đã publish message test",
		"topic":      req.Topic,
		"request_id": requestID,
	})
}
