package domain

import (
	"time"

	"gopkg.in/guregu/null.v4"
)

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCompleted ReservationStatus = "completed"
	ReservationCancelled ReservationStatus = "cancelled"
)

type Reservation struct {
	ID              int               `json:"reservation_id"`
	UserID          int               `json:"user_id"`
	SpotID          int               `json:"spot_id"`
	VehicleID       int               `json:"vehicle_id"`
	Status          ReservationStatus `json:"reservation_status"`
	StartTime       time.Time         `json:"start_time"`
	ExpectedEndTime time.Time         `json:"expected_end_time"`
	ActualEndTime   null.Time         `json:"actual_end_time"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`

	// Các trường join, chỉ dùng để trả về API, không map vào bảng reservations
	Username    null.String `json:"username,omitempty"`
	SpotName    null.String `json:"spot_name,omitempty"`
	PlateNumber null.String `json:"plate_number,omitempty"`
}

type CreateReservationDTO struct {
	UserID    int `json:"user_id" binding:"required"`
	SpotID    int `json:"spot_id" binding:"required"`
	VehicleID int `json:"vehicle_id" binding:"required"`
}
