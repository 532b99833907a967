package domain

import "time"

type VehicleType struct {
	ID       int    `json:"vehicle_type_id"`
	TypeName string `json:"type_name"`
}

type Vehicle struct {
	ID            int       `json:"vehicle_id"`
	UserID        int       `json:"user_id"`
	PlateNumber   string    `json:"plate_number"`
	VehicleTypeID int       `json:"vehicle_type_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type SaveVehicleDTO struct {
	UserID        int    `json:"user_id" binding:"required"`
	PlateNumber   string `json:"plate_number" binding:"required"`
	VehicleTypeID int    `json:"vehicle_type_id" binding:"required"`
}
