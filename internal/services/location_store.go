package services

import (
	"context"
	"sync"
	"time"

	"medisos/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LocationStore holds the latest known position of each patient.
type LocationStore interface {
	Update(ctx context.Context, patientID primitive.ObjectID, latitude, longitude float64) (*models.LocationSample, error)
	// Get returns nil and no error when nothing is on file.
	Get(ctx context.Context, patientID primitive.ObjectID) (*models.LocationSample, error)
}

type memoryLocationStore struct {
	mu      sync.RWMutex
	samples map[primitive.ObjectID]models.LocationSample
	now     func() time.Time
}

func NewMemoryLocationStore() LocationStore {
	return &memoryLocationStore{
		samples: make(map[primitive.ObjectID]models.LocationSample),
		now:     time.Now,
	}
}

func (s *memoryLocationStore) Update(ctx context.Context, patientID primitive.ObjectID, latitude, longitude float64) (*models.LocationSample, error) {
	sample := models.LocationSample{
		PatientID:  patientID,
		Latitude:   latitude,
		Longitude:  longitude,
		CapturedAt: s.now(),
	}

	s.mu.Lock()
	s.samples[patientID] = sample
	s.mu.Unlock()

	return &sample, nil
}

func (s *memoryLocationStore) Get(ctx context.Context, patientID primitive.ObjectID) (*models.LocationSample, error) {
	s.mu.RLock()
	sample, ok := s.samples[patientID]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	return &sample, nil
}
