package memory

import (
	"context"
	"sync"

	"medisos/internal/models"
	"medisos/internal/repositories/interfaces"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var _ interfaces.FacilityRepository = (*FacilityRepository)(nil)

// FacilityRepository keeps facilities in insertion order so candidate order,
// and therefore resolver tie-breaking, is deterministic.
type FacilityRepository struct {
	mu         sync.RWMutex
	facilities []*models.Facility
}

func NewFacilityRepository(facilities ...*models.Facility) *FacilityRepository {
	r := &FacilityRepository{}
	for _, f := range facilities {
		r.Add(f)
	}
	return r
}

func (r *FacilityRepository) Add(facility *models.Facility) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if facility.ID.IsZero() {
		facility.ID = primitive.NewObjectID()
	}
	copied := *facility
	r.facilities = append(r.facilities, &copied)
}

func (r *FacilityRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Facility, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, f := range r.facilities {
		if f.ID == id {
			copied := *f
			return &copied, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (r *FacilityRepository) GetByIdentityID(ctx context.Context, identityID primitive.ObjectID) (*models.Facility, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, f := range r.facilities {
		if f.IdentityID == identityID {
			copied := *f
			return &copied, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (r *FacilityRepository) ListApproved(ctx context.Context) ([]*models.Facility, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	approved := make([]*models.Facility, 0, len(r.facilities))
	for _, f := range r.facilities {
		if f.Approved {
			copied := *f
			approved = append(approved, &copied)
		}
	}
	return approved, nil
}
