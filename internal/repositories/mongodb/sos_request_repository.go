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

const SOSRequestsCollection = "sos_requests"

type sosRequestRepository struct {
	collection *mongo.Collection
	cache      CacheService
}

func NewSOSRequestRepository(db *mongo.Database, cache CacheService) interfaces.SOSRequestRepository {
	return &sosRequestRepository{
		collection: db.Collection(SOSRequestsCollection),
		cache:      cache,
	}
}

func (r *sosRequestRepository) Create(ctx context.Context, request *models.SOSRequest) error {
	if request.ID.IsZero() {
		request.ID = primitive.NewObjectID()
	}

	_, err := r.collection.InsertOne(ctx, request)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return interfaces.ErrConflict
		}
		return fmt.Errorf("failed to create sos request: %w", err)
	}

	r.cacheRequest(ctx, request)

	return nil
}

func (r *sosRequestRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.SOSRequest, error) {
	// The cache is filled on Create only. Refilling it here could store a
	// pending copy read just before a concurrent transition invalidated it.
	if request := r.getRequestFromCache(ctx, id.Hex()); request != nil {
		return request, nil
	}

	var request models.SOSRequest
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&request)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get sos request: %w", err)
	}

	return &request, nil
}

func (r *sosRequestRepository) UpdateIfPending(ctx context.Context, request *models.SOSRequest) error {
	filter := bson.M{
		"_id":    request.ID,
		"status": models.SOSStatusPending,
	}

	result, err := r.collection.ReplaceOne(ctx, filter, request)
	if err != nil {
		return fmt.Errorf("failed to update sos request: %w", err)
	}

	r.invalidateRequestCache(ctx, request.ID.Hex())

	if result.MatchedCount == 0 {
		count, err := r.collection.CountDocuments(ctx, bson.M{"_id": request.ID})
		if err != nil {
			return fmt.Errorf("failed to check sos request: %w", err)
		}
		if count == 0 {
			return interfaces.ErrNotFound
		}
		return interfaces.ErrConflict
	}

	return nil
}

func (r *sosRequestRepository) List(ctx context.Context, filter *models.SOSFilter) ([]*models.SOSRequest, error) {
	if filter == nil {
		filter = &models.SOSFilter{}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	return r.find(ctx, buildSOSFilter(filter), opts)
}

func (r *sosRequestRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*models.SOSRequest, error) {
	filter := bson.M{
		"status":     models.SOSStatusPending,
		"expires_at": bson.M{"$lte": now},
	}

	opts := options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	return r.find(ctx, filter, opts)
}

func (r *sosRequestRepository) GetStatistics(ctx context.Context, startDate, endDate *time.Time) (*models.SOSStatistics, error) {
	match := buildSOSFilter(&models.SOSFilter{StartDate: startDate, EndDate: endDate})

	statusPipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$status",
			"count": bson.M{"$sum": 1},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, statusPipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to get sos requests by status: %w", err)
	}
	defer cursor.Close(ctx)

	stats := &models.SOSStatistics{
		ByStatus:  make(map[models.SOSStatus]int64),
		StartDate: startDate,
		EndDate:   endDate,
	}
	for cursor.Next(ctx) {
		var result struct {
			Status models.SOSStatus `bson:"_id"`
			Count  int64            `bson:"count"`
		}
		if err := cursor.Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode status count: %w", err)
		}
		stats.ByStatus[result.Status] = result.Count
	}

	responseMatch := bson.M{"decided_at": bson.M{"$exists": true, "$ne": nil}}
	for k, v := range match {
		responseMatch[k] = v
	}

	responsePipeline := mongo.Pipeline{
		{{Key: "$match", Value: responseMatch}},
		{{Key: "$project", Value: bson.M{
			"response_duration": bson.M{
				"$subtract": []interface{}{"$decided_at", "$created_at"},
			},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":               nil,
			"avg_response_time": bson.M{"$avg": "$response_duration"},
		}}},
	}

	responseCursor, err := r.collection.Aggregate(ctx, responsePipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate average response time: %w", err)
	}
	defer responseCursor.Close(ctx)

	if responseCursor.Next(ctx) {
		var result struct {
			AvgResponseTime float64 `bson:"avg_response_time"`
		}
		if err := responseCursor.Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode average response time: %w", err)
		}
		// $subtract on dates yields milliseconds
		stats.AverageResponseSecs = result.AvgResponseTime / 1000
	}

	stats.Finalize()
	return stats, nil
}

func (r *sosRequestRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.SOSRequest, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find sos requests: %w", err)
	}
	defer cursor.Close(ctx)

	requests := make([]*models.SOSRequest, 0)
	for cursor.Next(ctx) {
		var request models.SOSRequest
		if err := cursor.Decode(&request); err != nil {
			return nil, fmt.Errorf("failed to decode sos request: %w", err)
		}
		requests = append(requests, &request)
	}

	return requests, cursor.Err()
}

func buildSOSFilter(filter *models.SOSFilter) bson.M {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.FacilityID != nil {
		query["assigned_facility_id"] = *filter.FacilityID
	}
	if filter.PatientID != nil {
		query["patient_id"] = *filter.PatientID
	}

	createdAt := bson.M{}
	if filter.StartDate != nil {
		createdAt["$gte"] = *filter.StartDate
	}
	if filter.EndDate != nil {
		createdAt["$lte"] = *filter.EndDate
	}
	if len(createdAt) > 0 {
		query["created_at"] = createdAt
	}

	return query
}

func (r *sosRequestRepository) cacheRequest(ctx context.Context, request *models.SOSRequest) {
	if r.cache != nil && request.Status == models.SOSStatusPending {
		cacheKey := utils.CacheSOSPrefix + request.ID.Hex()
		r.cache.Set(ctx, cacheKey, request, 5*time.Minute)
	}
}

func (r *sosRequestRepository) getRequestFromCache(ctx context.Context, requestID string) *models.SOSRequest {
	if r.cache == nil {
		return nil
	}

	var request models.SOSRequest
	if err := r.cache.Get(ctx, utils.CacheSOSPrefix+requestID, &request); err != nil {
		return nil
	}

	return &request
}

func (r *sosRequestRepository) invalidateRequestCache(ctx context.Context, requestID string) {
	if r.cache != nil {
		r.cache.Delete(ctx, utils.CacheSOSPrefix+requestID)
	}
}
