package interfaces

import (
	"context"
	"time"

	"medisos/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SOSRequestRepository is the audit-log collaborator's view of SOS requests:
// create and update by id, plus the historical queries built on top.
type SOSRequestRepository interface {
	Create(ctx context.Context, request *models.SOSRequest) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.SOSRequest, error)

	// UpdateIfPending replaces the stored record only while it is still
	// pending. It returns ErrNotFound or ErrConflict otherwise.
	UpdateIfPending(ctx context.Context, request *models.SOSRequest) error

	List(ctx context.Context, filter *models.SOSFilter) ([]*models.SOSRequest, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*models.SOSRequest, error)
	GetStatistics(ctx context.Context, startDate, endDate *time.Time) (*models.SOSStatistics, error)
}
