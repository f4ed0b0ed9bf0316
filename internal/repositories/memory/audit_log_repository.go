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

var _ interfaces.AuditLogRepository = (*AuditLogRepository)(nil)

type AuditLogRepository struct {
	mu      sync.RWMutex
	entries []*models.AuditLog
}

func NewAuditLogRepository() *AuditLogRepository {
	return &AuditLogRepository{}
}

func (r *AuditLogRepository) Append(ctx context.Context, entry *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	copied := *entry
	r.entries = append(r.entries, &copied)
	return nil
}

func (r *AuditLogRepository) GetByRequestID(ctx context.Context, requestID primitive.ObjectID) ([]*models.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*models.AuditLog, 0)
	for _, entry := range r.entries {
		if entry.RequestID != nil && *entry.RequestID == requestID {
			copied := *entry
			entries = append(entries, &copied)
		}
	}
	return entries, nil
}

func (r *AuditLogRepository) List(ctx context.Context, filter *models.AuditFilter) ([]*models.AuditLog, error) {
	if filter == nil {
		filter = &models.AuditFilter{}
	}

	r.mu.RLock()
	matched := make([]*models.AuditLog, 0)
	for i := len(r.entries) - 1; i >= 0; i-- {
		if filter.Matches(r.entries[i]) {
			copied := *r.entries[i]
			matched = append(matched, &copied)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return paginate(matched, filter.Offset, filter.Limit), nil
}

// All returns every entry in append order.
func (r *AuditLogRepository) All() []*models.AuditLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*models.AuditLog, len(r.entries))
	for i, entry := range r.entries {
		copied := *entry
		entries[i] = &copied
	}
	return entries
}
