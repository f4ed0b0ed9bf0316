package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type AuditEvent string

const (
	AuditEventSOSCreated     AuditEvent = "sos_created"
	AuditEventSOSAccepted    AuditEvent = "sos_accepted"
	AuditEventSOSRejected    AuditEvent = "sos_rejected"
	AuditEventSOSExpired     AuditEvent = "sos_expired"
	AuditEventDeliveryFailed AuditEvent = "delivery_failed"
	AuditEventDispatchFailed AuditEvent = "dispatch_failed"
)

// DecisionEvents are the entries a hospital response leaves behind.
var DecisionEvents = []AuditEvent{AuditEventSOSAccepted, AuditEventSOSRejected}

type AuditLog struct {
	ID        primitive.ObjectID     `json:"id" bson:"_id,omitempty"`
	RequestID *primitive.ObjectID    `json:"request_id,omitempty" bson:"request_id,omitempty"`
	Event     AuditEvent             `json:"event" bson:"event"`
	ActorID   *primitive.ObjectID    `json:"actor_id,omitempty" bson:"actor_id,omitempty"`
	ActorRole Role                   `json:"actor_role,omitempty" bson:"actor_role,omitempty"`
	Status    SOSStatus              `json:"status,omitempty" bson:"status,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty" bson:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at" bson:"created_at"`
}

// AuditFilter narrows an audit log query. Empty fields match everything;
// several Events match any of them.
type AuditFilter struct {
	Events    []AuditEvent
	ActorID   *primitive.ObjectID
	ActorRole Role
	Status    SOSStatus
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// Matches reports whether entry passes every set field of f.
func (f *AuditFilter) Matches(entry *AuditLog) bool {
	if len(f.Events) > 0 {
		found := false
		for _, event := range f.Events {
			if entry.Event == event {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ActorID != nil && (entry.ActorID == nil || *entry.ActorID != *f.ActorID) {
		return false
	}
	if f.ActorRole != "" && entry.ActorRole != f.ActorRole {
		return false
	}
	if f.Status != "" && entry.Status != f.Status {
		return false
	}
	if f.StartDate != nil && entry.CreatedAt.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && entry.CreatedAt.After(*f.EndDate) {
		return false
	}
	return true
}
