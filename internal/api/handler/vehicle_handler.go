package handler

import (
	"errors"
	"net/http"

	"github.com/Nurihank/smart-parking-api/internal/domain"
	"github.com/Nurihank/smart-parking-api/internal/repository"
	"github.com/Nurihank/smart-parking-api/internal/service"

	"github.com/gin-gonic/gin"
)

type VehicleHandler struct {
	vehicleService *service.VehicleService
}

func NewVehicleHandler(vs *service.VehicleService) *VehicleHandler {
	return &VehicleHandler{vehicleService: vs}
}

func (h *VehicleHandler) SaveVehicle(c *gin.Context) {
	var dto domain.SaveVehicleDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dữ liệu không hợp lệ: " + err.Error()})
		return
	}

	vehicle, err := h.vehicleService.SaveVehicle(c.Request.Context(), dto)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi khi lưu thông tin xe"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Đã lưu thông tin xe", "vehicle": vehicle})
}

func (h *VehicleHandler) GetUserVehicle(c *gin.Context) {
	userID, ok := parseIDParam(c, "userId")
	if !ok {
		return
	}

	vehicle, err := h.vehicleService.GetUserVehicle(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User chưa đăng ký xe"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi khi tìm thông tin xe"})
		return
	}
	c.JSON(http.StatusOK, vehicle)
}

func (h *VehicleHandler) GetVehicleTypes(c *gin.Context) {
	types, err := h.vehicleService.GetVehicleTypes(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lỗi khi lấy danh sách loại xe"})
		return
	}
	if types == nil {
		types = []domain.VehicleType{}
	}
	c.JSON(http.StatusOK, types)
}
