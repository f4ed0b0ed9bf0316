package models

import (
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SOSStatus string
type SOSDecision string

const (
	SOSStatusPending  SOSStatus = "pending"
	SOSStatusAccepted SOSStatus = "accepted"
	SOSStatusRejected SOSStatus = "rejected"
	SOSStatusExpired  SOSStatus = "expired"

	SOSDecisionAccept SOSDecision = "accepted"
	SOSDecisionReject SOSDecision = "rejected"
)

var (
	ErrSOSAlreadyResolved  = errors.New("sos request already resolved")
	ErrSOSFacilityMismatch = errors.New("decision facility does not match assigned facility")
	ErrSOSReasonRequired   = errors.New("rejection reason is required")
	ErrSOSInvalidDecision  = errors.New("invalid sos decision")
)

// IsTerminal reports whether no further transition is permitted from s.
func (s SOSStatus) IsTerminal() bool {
	return s == SOSStatusAccepted || s == SOSStatusRejected || s == SOSStatusExpired
}

func (s SOSStatus) IsValid() bool {
	return s == SOSStatusPending || s.IsTerminal()
}

func ParseSOSDecision(value string) (SOSDecision, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "accept", "accepted":
		return SOSDecisionAccept, nil
	case "reject", "rejected":
		return SOSDecisionReject, nil
	}
	return "", ErrSOSInvalidDecision
}

// EmergencyDetails is the free-form description a patient attaches to a request.
type EmergencyDetails struct {
	Symptoms string                 `json:"symptoms,omitempty" bson:"symptoms,omitempty"`
	Severity string                 `json:"severity,omitempty" bson:"severity,omitempty"`
	Notes    string                 `json:"notes,omitempty" bson:"notes,omitempty"`
	Extra    map[string]interface{} `json:"extra,omitempty" bson:"extra,omitempty"`
}

type SOSRequest struct {
	ID                   primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	PatientID            primitive.ObjectID  `json:"patient_id" bson:"patient_id"`
	Latitude             float64             `json:"latitude" bson:"latitude"`
	Longitude            float64             `json:"longitude" bson:"longitude"`
	LocationSource       LocationSource      `json:"location_source" bson:"location_source"`
	EmergencyDetails     EmergencyDetails    `json:"emergency_details" bson:"emergency_details"`
	Status               SOSStatus           `json:"status" bson:"status"`
	AssignedFacilityID   primitive.ObjectID  `json:"assigned_facility_id" bson:"assigned_facility_id"`
	AssignedFacilityName string              `json:"assigned_facility_name" bson:"assigned_facility_name"`
	DistanceKM           float64             `json:"distance_km" bson:"distance_km"`
	ETAMinutes           int                 `json:"eta_minutes" bson:"eta_minutes"`
	DecidedByFacilityID  *primitive.ObjectID `json:"decided_by_facility_id,omitempty" bson:"decided_by_facility_id,omitempty"`
	DecidedByName        string              `json:"decided_by_name,omitempty" bson:"decided_by_name,omitempty"`
	AcceptanceNote       string              `json:"acceptance_note,omitempty" bson:"acceptance_note,omitempty"`
	DecisionReason       string              `json:"decision_reason,omitempty" bson:"decision_reason,omitempty"`
	CreatedAt            time.Time           `json:"created_at" bson:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at" bson:"updated_at"`
	DecidedAt            *time.Time          `json:"decided_at,omitempty" bson:"decided_at,omitempty"`
	ExpiredAt            *time.Time          `json:"expired_at,omitempty" bson:"expired_at,omitempty"`
	ExpiresAt            *time.Time          `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
}

// SOSDecisionInput is a hospital's verdict on a pending request.
type SOSDecisionInput struct {
	FacilityID   primitive.ObjectID `json:"facility_id"`
	FacilityName string             `json:"facility_name"`
	Decision     SOSDecision        `json:"decision"`
	Note         string             `json:"note,omitempty"`
	Reason       string             `json:"reason,omitempty"`
}

func NewSOSRequest(patientID primitive.ObjectID, lat, lng float64, source LocationSource, details EmergencyDetails, match *FacilityMatch, now time.Time, ttl time.Duration) *SOSRequest {
	req := &SOSRequest{
		ID:                   primitive.NewObjectID(),
		PatientID:            patientID,
		Latitude:             lat,
		Longitude:            lng,
		LocationSource:       source,
		EmergencyDetails:     details,
		Status:               SOSStatusPending,
		AssignedFacilityID:   match.Facility.ID,
		AssignedFacilityName: match.Facility.Name,
		DistanceKM:           match.DistanceKM,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		req.ExpiresAt = &expiresAt
	}
	return req
}

// Clone returns a deep copy so a transition can be staged without touching
// the caller's record.
func (r *SOSRequest) Clone() *SOSRequest {
	c := *r
	if r.DecidedByFacilityID != nil {
		id := *r.DecidedByFacilityID
		c.DecidedByFacilityID = &id
	}
	c.DecidedAt = cloneTime(r.DecidedAt)
	c.ExpiredAt = cloneTime(r.ExpiredAt)
	c.ExpiresAt = cloneTime(r.ExpiresAt)
	if r.EmergencyDetails.Extra != nil {
		c.EmergencyDetails.Extra = make(map[string]interface{}, len(r.EmergencyDetails.Extra))
		for k, v := range r.EmergencyDetails.Extra {
			c.EmergencyDetails.Extra[k] = v
		}
	}
	return &c
}

// ApplyDecision moves a pending request to accepted or rejected.
func (r *SOSRequest) ApplyDecision(input SOSDecisionInput, now time.Time) error {
	if r.Status.IsTerminal() {
		return ErrSOSAlreadyResolved
	}
	if input.FacilityID != r.AssignedFacilityID {
		return ErrSOSFacilityMismatch
	}

	switch input.Decision {
	case SOSDecisionAccept:
		r.Status = SOSStatusAccepted
		r.AcceptanceNote = strings.TrimSpace(input.Note)
	case SOSDecisionReject:
		reason := strings.TrimSpace(input.Reason)
		if reason == "" {
			return ErrSOSReasonRequired
		}
		r.Status = SOSStatusRejected
		r.DecisionReason = reason
	default:
		return ErrSOSInvalidDecision
	}

	facilityID := input.FacilityID
	r.DecidedByFacilityID = &facilityID
	r.DecidedByName = input.FacilityName
	r.DecidedAt = &now
	r.UpdatedAt = now
	return nil
}

func (r *SOSRequest) Expire(now time.Time) error {
	if r.Status.IsTerminal() {
		return ErrSOSAlreadyResolved
	}
	r.Status = SOSStatusExpired
	r.ExpiredAt = &now
	r.UpdatedAt = now
	return nil
}

func (r *SOSRequest) IsOverdue(now time.Time) bool {
	return r.Status == SOSStatusPending && r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// ResponseTime is the delay between creation and the hospital's decision.
func (r *SOSRequest) ResponseTime() (time.Duration, bool) {
	if r.DecidedAt == nil {
		return 0, false
	}
	return r.DecidedAt.Sub(r.CreatedAt), true
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type SOSFilter struct {
	Status     SOSStatus
	FacilityID *primitive.ObjectID
	PatientID  *primitive.ObjectID
	StartDate  *time.Time
	EndDate    *time.Time
	Limit      int
	Offset     int
}

type SOSStatistics struct {
	TotalRequests       int64               `json:"total_requests"`
	ByStatus            map[SOSStatus]int64 `json:"by_status"`
	AcceptanceRate      float64             `json:"acceptance_rate"`
	ResponseRate        float64             `json:"response_rate"`
	AverageResponseSecs float64             `json:"average_response_seconds"`
	StartDate           *time.Time          `json:"start_date,omitempty"`
	EndDate             *time.Time          `json:"end_date,omitempty"`
}

// Finalize derives the totals and percentage rates from ByStatus.
func (s *SOSStatistics) Finalize() {
	if s.ByStatus == nil {
		s.ByStatus = make(map[SOSStatus]int64)
	}
	for _, status := range []SOSStatus{SOSStatusPending, SOSStatusAccepted, SOSStatusRejected, SOSStatusExpired} {
		if _, ok := s.ByStatus[status]; !ok {
			s.ByStatus[status] = 0
		}
	}

	s.TotalRequests = 0
	for _, count := range s.ByStatus {
		s.TotalRequests += count
	}
	if s.TotalRequests == 0 {
		s.AcceptanceRate = 0
		s.ResponseRate = 0
		return
	}

	accepted := s.ByStatus[SOSStatusAccepted]
	responded := accepted + s.ByStatus[SOSStatusRejected]
	s.AcceptanceRate = float64(accepted) / float64(s.TotalRequests) * 100
	s.ResponseRate = float64(responded) / float64(s.TotalRequests) * 100
}
