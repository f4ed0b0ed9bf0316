package services

import (
	"time"

	"medisos/internal/models"
	"medisos/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Events pushed to live connections.
const (
	EventWelcome             = "welcome"
	EventPong                = "pong"
	EventSOSAlert            = "sos_alert"
	EventSOSConfirmed        = "sos_confirmed"
	EventSOSError            = "sos_error"
	EventSOSAccepted         = "sos_accepted"
	EventSOSRejected         = "sos_rejected"
	EventSOSDecisionRecorded = "sos_decision_recorded"
	EventSOSDecisionError    = "sos_decision_error"
	EventLocationUpdated     = "location_updated"
	EventLocationError       = "location_error"
)

type PatientContext struct {
	ID               primitive.ObjectID       `json:"id"`
	Name             string                   `json:"name,omitempty"`
	Phone            string                   `json:"phone,omitempty"`
	Age              int                      `json:"age,omitempty"`
	Gender           string                   `json:"gender,omitempty"`
	BloodGroup       string                   `json:"blood_group,omitempty"`
	EmergencyContact *models.EmergencyContact `json:"emergency_contact,omitempty"`
}

type SOSAlertPayload struct {
	RequestID        primitive.ObjectID      `json:"request_id"`
	Patient          PatientContext          `json:"patient"`
	Latitude         float64                 `json:"latitude"`
	Longitude        float64                 `json:"longitude"`
	LocationSource   models.LocationSource   `json:"location_source"`
	DistanceKM       float64                 `json:"distance_km"`
	ETAMinutes       int                     `json:"eta_minutes"`
	EmergencyDetails models.EmergencyDetails `json:"emergency_details"`
	CreatedAt        time.Time               `json:"created_at"`
	ExpiresAt        *time.Time              `json:"expires_at,omitempty"`
}

type SOSConfirmedPayload struct {
	RequestID    primitive.ObjectID `json:"request_id"`
	Status       models.SOSStatus   `json:"status"`
	FacilityID   primitive.ObjectID `json:"facility_id"`
	FacilityName string             `json:"facility_name"`
	DistanceKM   float64            `json:"distance_km"`
	ETAMinutes   int                `json:"eta_minutes"`
	CreatedAt    time.Time          `json:"created_at"`
}

type SOSDecisionPayload struct {
	RequestID    primitive.ObjectID `json:"request_id"`
	Status       models.SOSStatus   `json:"status"`
	FacilityID   primitive.ObjectID `json:"facility_id"`
	FacilityName string             `json:"facility_name"`
	Note         string             `json:"note,omitempty"`
	Reason       string             `json:"reason,omitempty"`
	DecidedAt    *time.Time         `json:"decided_at,omitempty"`
}

type ErrorPayload struct {
	Code      string              `json:"code"`
	Message   string              `json:"message"`
	RequestID *primitive.ObjectID `json:"request_id,omitempty"`
}

func NewErrorPayload(err error, requestID *primitive.ObjectID) ErrorPayload {
	return ErrorPayload{
		Code:      ErrorCode(err),
		Message:   ErrorMessage(err),
		RequestID: requestID,
	}
}

func newPatientContext(patientID primitive.ObjectID, profile *models.PatientProfile, now time.Time) PatientContext {
	ctx := PatientContext{ID: patientID}
	if profile == nil {
		return ctx
	}
	ctx.Name = profile.Name
	ctx.Phone = profile.Phone
	ctx.Age = profile.Age(now)
	ctx.Gender = profile.Gender
	ctx.BloodGroup = profile.BloodGroup
	ctx.EmergencyContact = profile.EmergencyContact
	return ctx
}

func newAlertPayload(req *models.SOSRequest, patient PatientContext) SOSAlertPayload {
	return SOSAlertPayload{
		RequestID:        req.ID,
		Patient:          patient,
		Latitude:         req.Latitude,
		Longitude:        req.Longitude,
		LocationSource:   req.LocationSource,
		DistanceKM:       utils.RoundKM(req.DistanceKM),
		ETAMinutes:       req.ETAMinutes,
		EmergencyDetails: req.EmergencyDetails,
		CreatedAt:        req.CreatedAt,
		ExpiresAt:        req.ExpiresAt,
	}
}

func newConfirmedPayload(req *models.SOSRequest) SOSConfirmedPayload {
	return SOSConfirmedPayload{
		RequestID:    req.ID,
		Status:       req.Status,
		FacilityID:   req.AssignedFacilityID,
		FacilityName: req.AssignedFacilityName,
		DistanceKM:   utils.RoundKM(req.DistanceKM),
		ETAMinutes:   req.ETAMinutes,
		CreatedAt:    req.CreatedAt,
	}
}

func newDecisionPayload(req *models.SOSRequest) SOSDecisionPayload {
	return SOSDecisionPayload{
		RequestID:    req.ID,
		Status:       req.Status,
		FacilityID:   req.AssignedFacilityID,
		FacilityName: req.DecidedByName,
		Note:         req.AcceptanceNote,
		Reason:       req.DecisionReason,
		DecidedAt:    req.DecidedAt,
	}
}
