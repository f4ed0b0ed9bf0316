package memory

import (
	"context"
	"sync"

	"medisos/internal/models"
	"medisos/internal/repositories/interfaces"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var _ interfaces.PatientRepository = (*PatientRepository)(nil)

type PatientRepository struct {
	mu       sync.RWMutex
	profiles map[primitive.ObjectID]*models.PatientProfile
}

func NewPatientRepository(profiles ...*models.PatientProfile) *PatientRepository {
	r := &PatientRepository{profiles: make(map[primitive.ObjectID]*models.PatientProfile)}
	for _, p := range profiles {
		r.Add(p)
	}
	return r
}

func (r *PatientRepository) Add(profile *models.PatientProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if profile.ID.IsZero() {
		profile.ID = primitive.NewObjectID()
	}
	copied := *profile
	r.profiles[profile.IdentityID] = &copied
}

func (r *PatientRepository) GetByIdentityID(ctx context.Context, identityID primitive.ObjectID) (*models.PatientProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.profiles[identityID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	copied := *profile
	return &copied, nil
}
