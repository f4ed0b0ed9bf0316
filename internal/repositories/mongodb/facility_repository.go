package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medisos/internal/models"
	"medisos/internal/repositories/interfaces"
	"medisos/internal/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const FacilitiesCollection = "hospitals"

type facilityRepository struct {
	collection *mongo.Collection
	cache      CacheService
	cacheTTL   time.Duration
}

func NewFacilityRepository(db *mongo.Database, cache CacheService, cacheTTL time.Duration) interfaces.FacilityRepository {
	return &facilityRepository{
		collection: db.Collection(FacilitiesCollection),
		cache:      cache,
		cacheTTL:   cacheTTL,
	}
}

func (r *facilityRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Facility, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *facilityRepository) GetByIdentityID(ctx context.Context, identityID primitive.ObjectID) (*models.Facility, error) {
	cacheKey := utils.CacheFacilityPrefix + identityID.Hex()
	if r.cache != nil {
		var facility models.Facility
		if err := r.cache.Get(ctx, cacheKey, &facility); err == nil {
			return &facility, nil
		}
	}

	facility, err := r.findOne(ctx, bson.M{"identity_id": identityID})
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.Set(ctx, cacheKey, facility, r.cacheTTL)
	}

	return facility, nil
}

// ListApproved returns approved facilities with coordinates in _id order.
func (r *facilityRepository) ListApproved(ctx context.Context) ([]*models.Facility, error) {
	if r.cache != nil {
		var cached []*models.Facility
		if err := r.cache.Get(ctx, utils.CacheFacilitiesKey, &cached); err == nil {
			return cached, nil
		}
	}

	filter := bson.M{
		"approved": true,
		"location": bson.M{"$exists": true, "$ne": nil},
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list facilities: %w", err)
	}
	defer cursor.Close(ctx)

	facilities := make([]*models.Facility, 0)
	for cursor.Next(ctx) {
		var facility models.Facility
		if err := cursor.Decode(&facility); err != nil {
			return nil, fmt.Errorf("failed to decode facility: %w", err)
		}
		facilities = append(facilities, &facility)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to list facilities: %w", err)
	}

	if r.cache != nil {
		r.cache.Set(ctx, utils.CacheFacilitiesKey, facilities, r.cacheTTL)
	}

	return facilities, nil
}

func (r *facilityRepository) findOne(ctx context.Context, filter bson.M) (*models.Facility, error) {
	var facility models.Facility
	err := r.collection.FindOne(ctx, filter).Decode(&facility)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get facility: %w", err)
	}
	return &facility, nil
}
