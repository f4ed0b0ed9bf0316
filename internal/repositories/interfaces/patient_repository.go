package interfaces

import (
	"context"

	"medisos/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type PatientRepository interface {
	GetByIdentityID(ctx context.Context, identityID primitive.ObjectID) (*models.PatientProfile, error)
}
