// Package memory provides in-process repositories used for tests and for
// running the dispatcher without MongoDB.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"medisos/internal/models"
	"medisos/internal/repositories/interfaces"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var _ interfaces.SOSRequestRepository = (*SOSRequestRepository)(nil)

type SOSRequestRepository struct {
	mu       sync.RWMutex
	requests map[primitive.ObjectID]*models.SOSRequest
}

func NewSOSRequestRepository() *SOSRequestRepository {
	return &SOSRequestRepository{
		requests: make(map[primitive.ObjectID]*models.SOSRequest),
	}
}

func (r *SOSRequestRepository) Create(ctx context.Context, request *models.SOSRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if request.ID.IsZero() {
		request.ID = primitive.NewObjectID()
	}
	if _, exists := r.requests[request.ID]; exists {
		return interfaces.ErrConflict
	}
	r.requests[request.ID] = request.Clone()
	return nil
}

func (r *SOSRequestRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.SOSRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.requests[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return stored.Clone(), nil
}

func (r *SOSRequestRepository) UpdateIfPending(ctx context.Context, request *models.SOSRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.requests[request.ID]
	if !ok {
		return interfaces.ErrNotFound
	}
	if stored.Status != models.SOSStatusPending {
		return interfaces.ErrConflict
	}
	r.requests[request.ID] = request.Clone()
	return nil
}

func (r *SOSRequestRepository) List(ctx context.Context, filter *models.SOSFilter) ([]*models.SOSRequest, error) {
	if filter == nil {
		filter = &models.SOSFilter{}
	}

	r.mu.RLock()
	matched := make([]*models.SOSRequest, 0)
	for _, stored := range r.requests {
		if matchesFilter(stored, filter) {
			matched = append(matched, stored.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return paginate(matched, filter.Offset, filter.Limit), nil
}

func (r *SOSRequestRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*models.SOSRequest, error) {
	r.mu.RLock()
	overdue := make([]*models.SOSRequest, 0)
	for _, stored := range r.requests {
		if stored.IsOverdue(now) {
			overdue = append(overdue, stored.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(overdue, func(i, j int) bool {
		return overdue[i].ExpiresAt.Before(*overdue[j].ExpiresAt)
	})

	return paginate(overdue, 0, limit), nil
}

func (r *SOSRequestRepository) GetStatistics(ctx context.Context, startDate, endDate *time.Time) (*models.SOSStatistics, error) {
	stats := &models.SOSStatistics{
		ByStatus:  make(map[models.SOSStatus]int64),
		StartDate: startDate,
		EndDate:   endDate,
	}
	filter := &models.SOSFilter{StartDate: startDate, EndDate: endDate}

	var totalResponse time.Duration
	var responded int64

	r.mu.RLock()
	for _, stored := range r.requests {
		if !matchesFilter(stored, filter) {
			continue
		}
		stats.ByStatus[stored.Status]++
		if d, ok := stored.ResponseTime(); ok {
			totalResponse += d
			responded++
		}
	}
	r.mu.RUnlock()

	if responded > 0 {
		stats.AverageResponseSecs = totalResponse.Seconds() / float64(responded)
	}
	stats.Finalize()
	return stats, nil
}

func matchesFilter(request *models.SOSRequest, filter *models.SOSFilter) bool {
	if filter.Status != "" && request.Status != filter.Status {
		return false
	}
	if filter.FacilityID != nil && request.AssignedFacilityID != *filter.FacilityID {
		return false
	}
	if filter.PatientID != nil && request.PatientID != *filter.PatientID {
		return false
	}
	if filter.StartDate != nil && request.CreatedAt.Before(*filter.StartDate) {
		return false
	}
	if filter.EndDate != nil && request.CreatedAt.After(*filter.EndDate) {
		return false
	}
	return true
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
