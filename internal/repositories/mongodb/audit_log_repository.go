package mongodb

import (
	"context"
	"fmt"
	"time"

	"medisos/internal/models"
	"medisos/internal/repositories/interfaces"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const AuditLogsCollection = "sos_audit_logs"

type auditLogRepository struct {
	collection *mongo.Collection
}

func NewAuditLogRepository(db *mongo.Database) interfaces.AuditLogRepository {
	return &auditLogRepository{
		collection: db.Collection(AuditLogsCollection),
	}
}

func (r *auditLogRepository) Append(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	if _, err := r.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit log: %w", err)
	}

	return nil
}

func (r *auditLogRepository) GetByRequestID(ctx context.Context, requestID primitive.ObjectID) ([]*models.AuditLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	return r.find(ctx, bson.M{"request_id": requestID}, opts)
}

func (r *auditLogRepository) List(ctx context.Context, filter *models.AuditFilter) ([]*models.AuditLog, error) {
	if filter == nil {
		filter = &models.AuditFilter{}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	return r.find(ctx, buildAuditFilter(filter), opts)
}

func (r *auditLogRepository) find(ctx context.Context, query bson.M, opts *options.FindOptions) ([]*models.AuditLog, error) {
	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find audit logs: %w", err)
	}
	defer cursor.Close(ctx)

	entries := make([]*models.AuditLog, 0)
	for cursor.Next(ctx) {
		var entry models.AuditLog
		if err := cursor.Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode audit log: %w", err)
		}
		entries = append(entries, &entry)
	}

	return entries, cursor.Err()
}

func buildAuditFilter(filter *models.AuditFilter) bson.M {
	query := bson.M{}

	switch len(filter.Events) {
	case 0:
	case 1:
		query["event"] = filter.Events[0]
	default:
		query["event"] = bson.M{"$in": filter.Events}
	}
	if filter.ActorID != nil {
		query["actor_id"] = *filter.ActorID
	}
	if filter.ActorRole != "" {
		query["actor_role"] = filter.ActorRole
	}
	if filter.Status != "" {
		query["status"] = filter.Status
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
