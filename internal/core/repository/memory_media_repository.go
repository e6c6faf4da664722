package repository

import (
	"sort"
	"sync"

	"fleettrack/internal/core/model"
)

type inMemoryMediaRepository struct {
	files map[string]*model.MediaFile
	mutex sync.RWMutex
}

func NewInMemoryMediaRepository() MediaRepository {
	return &inMemoryMediaRepository{
		files: make(map[string]*model.MediaFile),
	}
}

func (r *inMemoryMediaRepository) Create(file *model.MediaFile) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.files[file.ID] = file
	return nil
}

func (r *inMemoryMediaRepository) FindByID(id string) (*model.MediaFile, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if file, exists := r.files[id]; exists {
		return file, nil
	}
	return nil, nil
}

func (r *inMemoryMediaRepository) FindByDeviceID(deviceID string, limit int) ([]*model.MediaFile, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.MediaFile
	for _, file := range r.files {
		if file.DeviceID == deviceID {
			result = append(result, file)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UploadedAt.After(result[j].UploadedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *inMemoryMediaRepository) FindByAlarm(deviceID string, alarmID uint32) ([]*model.MediaFile, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.MediaFile
	for _, file := range r.files {
		if file.DeviceID == deviceID && file.AlarmID == alarmID && file.Correlated {
			result = append(result, file)
		}
	}
	return result, nil
}
