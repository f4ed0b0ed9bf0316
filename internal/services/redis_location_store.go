package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medisos/internal/models"
	"medisos/internal/utils"
	"medisos/pkg/cache"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LocationCache is the part of cache.RedisCache the Redis location store
// needs.
type LocationCache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
}

// redisLocationStore shares patient positions across server instances. The
// latest sample is kept as JSON under a per-patient key that expires with ttl.
type redisLocationStore struct {
	cache LocationCache
	ttl   time.Duration
	now   func() time.Time
}

func NewRedisLocationStore(c LocationCache, ttl time.Duration) LocationStore {
	return &redisLocationStore{
		cache: c,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (s *redisLocationStore) Update(ctx context.Context, patientID primitive.ObjectID, latitude, longitude float64) (*models.LocationSample, error) {
	sample := &models.LocationSample{
		PatientID:  patientID,
		Latitude:   latitude,
		Longitude:  longitude,
		CapturedAt: s.now(),
	}

	if err := s.cache.Set(ctx, locationKey(patientID), sample, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to store location: %w", err)
	}

	return sample, nil
}

func (s *redisLocationStore) Get(ctx context.Context, patientID primitive.ObjectID) (*models.LocationSample, error) {
	var sample models.LocationSample
	if err := s.cache.Get(ctx, locationKey(patientID), &sample); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load location: %w", err)
	}
	return &sample, nil
}

func locationKey(patientID primitive.ObjectID) string {
	return utils.CacheLocationPrefix + patientID.Hex()
}
