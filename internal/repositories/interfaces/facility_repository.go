package interfaces

import (
	"context"

	"medisos/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FacilityRepository is a read-only view of the hospital directory.
type FacilityRepository interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Facility, error)
	GetByIdentityID(ctx context.Context, identityID primitive.ObjectID) (*models.Facility, error)
	ListApproved(ctx context.Context) ([]*models.Facility, error)
}
