package service

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fleettrack/internal/core/model"
	"fleettrack/internal/core/repository"
)

type MediaService interface {
	GetMedia(id string) (*model.MediaFile, error)
	GetDeviceMedia(deviceID string, limit int) ([]*model.MediaFile, error)
	GetAlarmMedia(deviceID string, alarmID uint32) ([]*model.MediaFile, error)

	// MediaStored is the protocol-side entry point for finalized transfers.
	MediaStored(file *model.MediaFile)
}

type mediaService struct {
	mediaRepo repository.MediaRepository
	log       zerolog.Logger
}

func NewMediaService(mediaRepo repository.MediaRepository) MediaService {
	return &mediaService{
		mediaRepo: mediaRepo,
		log:       log.With().Str("mod", "service.media").Logger(),
	}
}

func (s *mediaService) MediaStored(file *model.MediaFile) {
	if err := s.mediaRepo.Create(file); err != nil {
		s.log.Error().Err(err).Str("device", file.DeviceID).Str("path", file.Path).
			Msg("media record not persisted")
		return
	}
	evt := s.log.Info().Str("device", file.DeviceID).Str("type", file.Type).
		Int("bytes", file.Size).Str("path", file.Path)
	if file.Correlated {
		evt = evt.Uint32("alarm", file.AlarmID).Str("alarmType", file.AlarmType)
	}
	if file.Incomplete {
		evt = evt.Bool("incomplete", true)
	}
	evt.Msg("media stored")
}

func (s *mediaService) GetMedia(id string) (*model.MediaFile, error) {
	if id == "" {
		return nil, errors.New("invalid media ID")
	}
	return s.mediaRepo.FindByID(id)
}

func (s *mediaService) GetDeviceMedia(deviceID string, limit int) ([]*model.MediaFile, error) {
	if deviceID == "" {
		return nil, errors.New("invalid device ID")
	}
	return s.mediaRepo.FindByDeviceID(deviceID, limit)
}

func (s *mediaService) GetAlarmMedia(deviceID string, alarmID uint32) ([]*model.MediaFile, error) {
	if deviceID == "" {
		return nil, errors.New("invalid device ID")
	}
	return s.mediaRepo.FindByAlarm(deviceID, alarmID)
}
