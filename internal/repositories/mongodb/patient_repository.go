package mongodb

import (
	"context"
	"errors"
	"fmt"

	"medisos/internal/models"
	"medisos/internal/repositories/interfaces"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

const PatientsCollection = "patients"

type patientRepository struct {
	collection *mongo.Collection
}

func NewPatientRepository(db *mongo.Database) interfaces.PatientRepository {
	return &patientRepository{
		collection: db.Collection(PatientsCollection),
	}
}

func (r *patientRepository) GetByIdentityID(ctx context.Context, identityID primitive.ObjectID) (*models.PatientProfile, error) {
	var profile models.PatientProfile
	err := r.collection.FindOne(ctx, bson.M{"identity_id": identityID}).Decode(&profile)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get patient profile: %w", err)
	}
	return &profile, nil
}
