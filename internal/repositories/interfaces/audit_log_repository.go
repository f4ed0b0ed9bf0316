package interfaces

import (
	"context"

	"medisos/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AuditLogRepository is append-only.
type AuditLogRepository interface {
	Append(ctx context.Context, entry *models.AuditLog) error
	GetByRequestID(ctx context.Context, requestID primitive.ObjectID) ([]*models.AuditLog, error)

	// List returns matching entries, newest first.
	List(ctx context.Context, filter *models.AuditFilter) ([]*models.AuditLog, error)
}
