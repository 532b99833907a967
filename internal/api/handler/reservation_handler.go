package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/Nurihank/smart-parking-api/internal/coordinator"
	"github.com/Nurihank/smart-parking-api/internal/domain"
	"github.com/Nurihank/smart-parking-api/internal/engine"
	"github.com/Nurihank/smart-parking-api/internal/repository"
	"github.com/Nurihank/smart-parking-api/internal/service"

	"github.com/gin-gonic/gin"
)

// ExpirySweeper chạy một lần quét reservation hết hạn dưới khóa chống chạy
// chồng của scheduler. Mọi trigger quét thủ công đều phải đi qua đây thay vì
// gọi thẳng service, để lần quét thủ công và tick định kỳ không bao giờ chạy song song.
type ExpirySweeper interface {
	CheckNow(ctx context.Context) (int, error)
}

type ReservationHandler struct {
	reservationService *service.ReservationService
	expirySweeper      ExpirySweeper
}

func NewReservationHandler(rs *service.ReservationService, sweeper ExpirySweeper) *ReservationHandler {
	return &ReservationHandler{reservationService: rs, expirySweeper: sweeper}
}

// respondReservationError map các sentinel nghiệp vụ sang HTTP status.
func respondReservationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrSpotUnavailable),
		errors.Is(err, engine.ErrDuplicateActive),
		errors.Is(err, repository.ErrDuplicateEntry):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrNoActiveReservation),
		errors.Is(err, engine.ErrInvalidTransition):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, coordinator.ErrStorage):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi hệ thống, vui lòng thử lại"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi không xác định"})
	}
}

func (h *ReservationHandler) CreateReservation(c *gin.Context) {
	var dto domain.CreateReservationDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dữ liệu không hợp lệ: " + err.Error()})
		return
	}

	resv, err := h.reservationService.CreateReservation(c.Request.Context(), dto)
	if err != nil {
		respondReservationError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":           "Đặt chỗ thành công",
		"reservation_id":    resv.ID,
		"expected_end_time": resv.ExpectedEndTime,
		"reservation":       resv,
	})
}

func (h *ReservationHandler) VehicleArrived(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	resv, err := h.reservationService.MarkVehicleArrived(c.Request.Context(), id)
	if err != nil {
		respondReservationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Đã xác nhận xe đến",
		"reservation": resv,
	})
}

func (h *ReservationHandler) VehicleLeft(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	resv, durationMinutes, err := h.reservationService.MarkVehicleLeft(c.Request.Context(), id)
	if err != nil {
		respondReservationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":                  "Đã xác nhận xe rời đi",
		"parking_start_time":       resv.StartTime,
		"actual_departure_time":    resv.ActualEndTime,
		"parking_duration_minutes": durationMinutes,
	})
}

func (h *ReservationHandler) CancelReservation(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	resv, err := h.reservationService.CancelReservation(c.Request.Context(), id)
	if err != nil {
		respondReservationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Đã hủy reservation",
		"reservation": resv,
	})
}

// CheckExpired kích hoạt một lần quét reservation hết hạn thủ công,
// dùng chung khóa với các tick định kỳ của scheduler.
func (h *ReservationHandler) CheckExpired(c *gin.Context) {
	cancelled, err := h.expirySweeper.CheckNow(c.Request.Context())
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

func (h *ReservationHandler) GetActiveReservations(c *gin.Context) {
	reservations, err := h.reservationService.GetActiveReservations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi khi lấy danh sách reservation"})
		return
	}
	if reservations == nil {
		reservations = []domain.Reservation{}
	}
	c.JSON(http.StatusOK, reservations)
}

func (h *ReservationHandler) GetUserReservations(c *gin.Context) {
	userID, ok := parseIDParam(c, "userId")
	if !ok {
		return
	}

	reservations, err := h.reservationService.GetUserReservations(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi khi lấy lịch sử reservation"})
		return
	}
	if reservations == nil {
		reservations = []domain.Reservation{}
	}
	c.JSON(http.StatusOK, reservations)
}

func (h *ReservationHandler) GetUserActiveReservation(c *gin.Context) {
	userID, ok := parseIDParam(c, "userId")
	if !ok {
		return
	}

	resv, err := h.reservationService.GetUserActiveReservation(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNoActiveReservation) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User không có reservation đang hoạt động"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi khi tìm reservation"})
		return
	}
	c.JSON(http.StatusOK, resv)
}

func parseIDParam(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Tham số '" + name + "' không hợp lệ"})
		return 0, false
	}
	return id, true
}
