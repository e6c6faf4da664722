package service

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fleettrack/internal/core/model"
	"fleettrack/internal/core/repository"
	"fleettrack/internal/core/util"
)

type DeviceService interface {
	CreateDevice(name, uniqueID string) (*model.Device, error)
	UpdateDevice(device *model.Device) error
	DeleteDevice(id string) error
	GetDevice(id string) (*model.Device, error)
	GetAllDevices() ([]*model.Device, error)
	FindByUniqueID(uniqueID string) (*model.Device, error)

	// EnsureRegistered backs the protocol registration flow: it returns the
	// existing device or provisions one, always with an auth code set.
	EnsureRegistered(uniqueID, terminalModel, plate string) (*model.Device, error)
	MarkOffline(uniqueID string)
}

type deviceService struct {
	deviceRepo repository.DeviceRepository
	log        zerolog.Logger
}

func NewDeviceService(deviceRepo repository.DeviceRepository) DeviceService {
	return &deviceService{
		deviceRepo: deviceRepo,
		log:        log.With().Str("mod", "service.device").Logger(),
	}
}

func (s *deviceService) CreateDevice(name, uniqueID string) (*model.Device, error) {
	if name == "" || uniqueID == "" {
		return nil, errors.New("invalid device data")
	}

	existing, err := s.deviceRepo.FindByUniqueID(uniqueID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.New("device already registered")
	}

	device := model.NewDevice(name, uniqueID)
	device.AuthCode = util.GenerateAuthCode()
	if err := s.deviceRepo.Create(device); err != nil {
		return nil, err
	}
	return device, nil
}

func (s *deviceService) UpdateDevice(device *model.Device) error {
	if device.ID == "" {
		return errors.New("invalid device ID")
	}
	return s.deviceRepo.Update(device)
}

func (s *deviceService) DeleteDevice(id string) error {
	if id == "" {
		return errors.New("invalid device ID")
	}
	return s.deviceRepo.Delete(id)
}

func (s *deviceService) GetDevice(id string) (*model.Device, error) {
	if id == "" {
		return nil, errors.New("invalid device ID")
	}
	return s.deviceRepo.FindByID(id)
}

func (s *deviceService) GetAllDevices() ([]*model.Device, error) {
	return s.deviceRepo.FindAll()
}

func (s *deviceService) FindByUniqueID(uniqueID string) (*model.Device, error) {
	if uniqueID == "" {
		return nil, errors.New("invalid device identifier")
	}
	return s.deviceRepo.FindByUniqueID(uniqueID)
}

func (s *deviceService) EnsureRegistered(uniqueID, terminalModel, plate string) (*model.Device, error) {
	device, err := s.deviceRepo.FindByUniqueID(uniqueID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		device = model.NewDevice(uniqueID, uniqueID)
		device.Model = terminalModel
		device.Plate = plate
		device.AuthCode = util.GenerateAuthCode()
		if err := s.deviceRepo.Create(device); err != nil {
			return nil, err
		}
		s.log.Info().Str("device", uniqueID).Str("model", terminalModel).Msg("device provisioned")
		return device, nil
	}

	changed := false
	if terminalModel != "" && device.Model != terminalModel {
		device.Model = terminalModel
		changed = true
	}
	if plate != "" && device.Plate != plate {
		device.Plate = plate
		changed = true
	}
	if device.AuthCode == "" {
		device.AuthCode = util.GenerateAuthCode()
		changed = true
	}
	if changed {
		if err := s.deviceRepo.Update(device); err != nil {
			return nil, err
		}
	}
	return device, nil
}

func (s *deviceService) MarkOffline(uniqueID string) {
	device, err := s.deviceRepo.FindByUniqueID(uniqueID)
	if err != nil || device == nil {
		return
	}
	device.Status = "inactive"
	if err := s.deviceRepo.Update(device); err != nil {
		s.log.Warn().Err(err).Str("device", uniqueID).Msg("device offline update failed")
	}
}
