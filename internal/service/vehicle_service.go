package service

import (
	"context"

	"github.com/Nurihank/smart-parking-api/internal/domain"
	"github.com/Nurihank/smart-parking-api/internal/repository"
)

type VehicleService struct {
	vehicleRepo repository.VehicleRepository
}

func NewVehicleService(vehicleRepo repository.VehicleRepository) *VehicleService {
	return &VehicleService{vehicleRepo: vehicleRepo}
}

func (s *VehicleService) SaveVehicle(ctx context.Context, dto domain.SaveVehicleDTO) (*domain.Vehicle, error) {
	return s.vehicleRepo.Save(ctx, &domain.Vehicle{
		UserID:        dto.UserID,
		PlateNumber:   dto.PlateNumber,
		VehicleTypeID: dto.VehicleTypeID,
	})
}

func (s *VehicleService) GetUserVehicle(ctx context.Context, userID int) (*domain.Vehicle, error) {
	return s.vehicleRepo.FindByUserID(ctx, userID)
}

func (s *VehicleService) GetVehicleTypes(ctx context.Context) ([]domain.VehicleType, error) {
	return s.vehicleRepo.FindAllTypes(ctx)
}
