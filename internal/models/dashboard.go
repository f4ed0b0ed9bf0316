package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SOSDashboard is the role-scoped overview served to admins and hospitals.
// Admins get global statistics; hospitals get counts for their own facility.
type SOSDashboard struct {
	Role            Role                `json:"user_role"`
	FacilityID      *primitive.ObjectID `json:"hospital_id,omitempty"`
	FacilityName    string              `json:"hospital_name,omitempty"`
	Statistics      *SOSStatistics      `json:"statistics,omitempty"`
	StatusCounts    map[SOSStatus]int64 `json:"status_counts,omitempty"`
	PendingRequests []*SOSRequest       `json:"pending_requests"`
	RecentRequests  []*SOSRequest       `json:"recent_requests,omitempty"`
	StartDate       time.Time           `json:"start_date"`
	EndDate         time.Time           `json:"end_date"`
}

// NewStatusCounts returns a count map with every status present.
func NewStatusCounts() map[SOSStatus]int64 {
	return map[SOSStatus]int64{
		SOSStatusPending:  0,
		SOSStatusAccepted: 0,
		SOSStatusRejected: 0,
		SOSStatusExpired:  0,
	}
}

type ActivitySummary struct {
	Count        int       `json:"count"`
	FailedCount  int       `json:"failed_count"`
	LastActivity time.Time `json:"last_activity"`
}

// RecentActivity groups one actor's audit entries over a time window.
type RecentActivity struct {
	StartDate   time.Time                       `json:"start_date"`
	EndDate     time.Time                       `json:"end_date"`
	TotalEvents int                             `json:"total_events"`
	ByEvent     map[AuditEvent]*ActivitySummary `json:"activity_summary"`
	RecentLogs  []*AuditLog                     `json:"recent_logs"`
}

// SummarizeActivity folds entries, newest first, into a RecentActivity,
// keeping at most recent of them verbatim.
func SummarizeActivity(entries []*AuditLog, start, end time.Time, recent int) *RecentActivity {
	activity := &RecentActivity{
		StartDate:   start,
		EndDate:     end,
		TotalEvents: len(entries),
		ByEvent:     make(map[AuditEvent]*ActivitySummary),
		RecentLogs:  entries,
	}

	for _, entry := range entries {
		summary, ok := activity.ByEvent[entry.Event]
		if !ok {
			summary = &ActivitySummary{}
			activity.ByEvent[entry.Event] = summary
		}
		summary.Count++
		if entry.Event == AuditEventDeliveryFailed || entry.Event == AuditEventDispatchFailed {
			summary.FailedCount++
		}
		if entry.CreatedAt.After(summary.LastActivity) {
			summary.LastActivity = entry.CreatedAt
		}
	}

	if len(activity.RecentLogs) > recent {
		activity.RecentLogs = activity.RecentLogs[:recent]
	}
	return activity
}
