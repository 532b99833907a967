package handler

import (
	"net/http"

	"github.com/Nurihank/smart-parking-api/internal/domain"
	"github.com/Nurihank/smart-parking-api/internal/service"

	"github.com/gin-gonic/gin"
)

type SpotHandler struct {
	reservationService *service.ReservationService
}

func NewSpotHandler(rs *service.ReservationService) *SpotHandler {
	return &SpotHandler{reservationService: rs}
}

// GetSpotStatuses trả về trạng thái hiện tại của toàn bộ spot cho dashboard.
func (h *SpotHandler) GetSpotStatuses(c *gin.Context) {
	spots, err := h.reservationService.GetSpotStatuses(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi khi lấy trạng thái chỗ đỗ"})
		return
	}
	if spots == nil {
		spots = []domain.ParkingSpot{}
	}
	c.JSON(http.StatusOK, spots)
}
