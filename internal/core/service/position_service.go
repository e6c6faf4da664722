package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fleettrack/internal/cache"
	"fleettrack/internal/core/model"
	"fleettrack/internal/core/repository"
)

type PositionService interface {
	Record(position *model.Position) error
	GetDevicePositions(deviceID string, limit int) ([]*model.Position, error)
	GetLatestPosition(deviceID string) (*model.Position, error)

	// PositionReceived is the protocol-side entry point; decode pipelines must
	// never fail on a storage error.
	PositionReceived(position *model.Position)
}

type positionService struct {
	positionRepo repository.PositionRepository
	deviceRepo   repository.DeviceRepository
	log          zerolog.Logger
}

func NewPositionService(positionRepo repository.PositionRepository, deviceRepo repository.DeviceRepository) PositionService {
	return &positionService{
		positionRepo: positionRepo,
		deviceRepo:   deviceRepo,
		log:          log.With().Str("mod", "service.position").Logger(),
	}
}

func (s *positionService) Record(position *model.Position) error {
	if position == nil || position.DeviceID == "" {
		return errors.New("invalid position")
	}

	if err := s.positionRepo.Create(position); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cache.Set(ctx, latestPositionKey(position.DeviceID), position, 10*time.Minute); err != nil {
		s.log.Debug().Err(err).Str("device", position.DeviceID).Msg("latest-position cache write failed")
	}

	// Track device liveness off the position stream.
	device, err := s.deviceRepo.FindByUniqueID(position.DeviceID)
	if err != nil || device == nil {
		return nil
	}
	device.PositionID = position.ID
	device.LastUpdate = position.Timestamp
	device.Status = "active"
	if err := s.deviceRepo.Update(device); err != nil {
		s.log.Warn().Err(err).Str("device", position.DeviceID).Msg("device update failed")
	}
	return nil
}

func (s *positionService) PositionReceived(position *model.Position) {
	if err := s.Record(position); err != nil {
		s.log.Error().Err(err).Str("device", position.DeviceID).Msg("position not recorded")
	}
}

func (s *positionService) GetDevicePositions(deviceID string, limit int) ([]*model.Position, error) {
	if deviceID == "" {
		return nil, errors.New("invalid device ID")
	}
	return s.positionRepo.FindByDeviceID(deviceID, limit)
}

func (s *positionService) GetLatestPosition(deviceID string) (*model.Position, error) {
	if deviceID == "" {
		return nil, errors.New("invalid device ID")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var cached model.Position
	if err := cache.Get(ctx, latestPositionKey(deviceID), &cached); err == nil {
		return &cached, nil
	}

	return s.positionRepo.FindLatestByDeviceID(deviceID)
}

func latestPositionKey(deviceID string) string {
	return "pos:latest:" + deviceID
}
