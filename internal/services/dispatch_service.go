package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medisos/internal/config"
	"medisos/internal/metrics"
	"medisos/internal/models"
	"medisos/internal/repositories/interfaces"
	"medisos/internal/utils"
	"medisos/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const overdueBatchSize = 100

type DispatchService interface {
	// Live dispatch
	SubmitSOS(ctx context.Context, input *SubmitSOSInput) (*models.SOSRequest, error)
	SubmitDecision(ctx context.Context, input *DecisionInput) (*models.SOSRequest, error)
	Expire(ctx context.Context, requestID primitive.ObjectID) (*models.SOSRequest, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)
	UpdateLocation(ctx context.Context, patientID primitive.ObjectID, latitude, longitude float64) (*models.LocationSample, error)

	// Queries
	GetRequest(ctx context.Context, requestID primitive.ObjectID) (*models.SOSRequest, error)
	ListRequests(ctx context.Context, filter *models.SOSFilter) ([]*models.SOSRequest, error)
	GetRequestEvents(ctx context.Context, requestID primitive.ObjectID) ([]*models.AuditLog, error)
	GetStatistics(ctx context.Context, startDate, endDate *time.Time) (*models.SOSStatistics, error)
	FacilityForIdentity(ctx context.Context, identityID primitive.ObjectID) (*models.Facility, error)

	// Reporting
	Dashboard(ctx context.Context, identityID primitive.ObjectID, role models.Role) (*models.SOSDashboard, error)
	ListAuditLogs(ctx context.Context, filter *models.AuditFilter) ([]*models.AuditLog, error)
	RecentActivity(ctx context.Context, identityID primitive.ObjectID, role models.Role, window time.Duration) (*models.RecentActivity, error)
}

type SubmitSOSInput struct {
	PatientID        primitive.ObjectID
	Latitude         *float64
	Longitude        *float64
	EmergencyDetails models.EmergencyDetails
}

// DecisionInput is a hospital verdict. When ActorIdentityID is set, the
// facility must belong to that identity.
type DecisionInput struct {
	RequestID       primitive.ObjectID
	ActorIdentityID primitive.ObjectID
	FacilityID      primitive.ObjectID
	FacilityName    string
	Decision        models.SOSDecision
	Note            string
	Reason          string
}

type dispatchService struct {
	config       *config.DispatchConfig
	registry     *ConnectionRegistry
	locations    LocationStore
	facilityRepo interfaces.FacilityRepository
	patientRepo  interfaces.PatientRepository
	sosRepo      interfaces.SOSRequestRepository
	auditRepo    interfaces.AuditLogRepository
	metrics      *metrics.Metrics
	logger       *logger.Logger
	now          func() time.Time
}

func NewDispatchService(
	cfg *config.DispatchConfig,
	registry *ConnectionRegistry,
	locations LocationStore,
	facilityRepo interfaces.FacilityRepository,
	patientRepo interfaces.PatientRepository,
	sosRepo interfaces.SOSRequestRepository,
	auditRepo interfaces.AuditLogRepository,
	m *metrics.Metrics,
	log *logger.Logger,
) DispatchService {
	return &dispatchService{
		config:       cfg,
		registry:     registry,
		locations:    locations,
		facilityRepo: facilityRepo,
		patientRepo:  patientRepo,
		sosRepo:      sosRepo,
		auditRepo:    auditRepo,
		metrics:      m,
		logger:       log,
		now:          time.Now,
	}
}

func (s *dispatchService) SubmitSOS(ctx context.Context, input *SubmitSOSInput) (*models.SOSRequest, error) {
	started := s.now()

	request, err := s.submitSOS(ctx, input)
	if err != nil {
		s.metrics.ObserveSubmission(outcomeLabel(err), s.now().Sub(started))
		s.logger.WithContext(ctx).WithError(err).WithField("patient_id", input.PatientID.Hex()).Warn("SOS submission failed")
		s.audit(ctx, &models.AuditLog{
			Event:     models.AuditEventDispatchFailed,
			ActorID:   &input.PatientID,
			ActorRole: models.RolePatient,
			Details:   map[string]interface{}{"code": ErrorCode(err), "error": err.Error()},
		})
		return nil, err
	}

	s.metrics.ObserveSubmission("created", s.now().Sub(started))
	return request, nil
}

func (s *dispatchService) submitSOS(ctx context.Context, input *SubmitSOSInput) (*models.SOSRequest, error) {
	lat, lng, source, err := s.resolveOrigin(ctx, input)
	if err != nil {
		return nil, err
	}

	candidates, err := s.reachableFacilities(ctx)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoFacilityAvailable
	}

	match := ResolveNearestFacility(lat, lng, candidates, s.config.RadiusKM())
	if match == nil {
		return nil, ErrNoFacilityAvailable
	}

	now := s.now()
	request := models.NewSOSRequest(input.PatientID, lat, lng, source, input.EmergencyDetails, match, now, s.config.RequestTTL)
	request.ETAMinutes = utils.EstimateETAMinutes(match.DistanceKM, s.config.AverageSpeedKMH)

	if err := s.sosRepo.Create(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to persist sos request: %w", err)
	}

	s.audit(ctx, &models.AuditLog{
		RequestID: &request.ID,
		Event:     models.AuditEventSOSCreated,
		ActorID:   &input.PatientID,
		ActorRole: models.RolePatient,
		Status:    request.Status,
		Details: map[string]interface{}{
			"facility_id":     request.AssignedFacilityID.Hex(),
			"facility_name":   request.AssignedFacilityName,
			"distance_km":     utils.RoundKM(request.DistanceKM),
			"location_source": string(source),
		},
	})
	s.logger.LogSOSEvent(request.ID.Hex(), "created", map[string]interface{}{
		"patient_id":  input.PatientID.Hex(),
		"facility_id": request.AssignedFacilityID.Hex(),
		"distance_km": utils.RoundKM(request.DistanceKM),
	})

	profile := s.patientProfile(ctx, input.PatientID)
	alert := newAlertPayload(request, newPatientContext(input.PatientID, profile, now))

	// The hospital alert always goes out before the patient confirmation.
	s.deliver(ctx, request, match.Facility.IdentityID, models.RoleHospital, EventSOSAlert, alert)
	s.deliver(ctx, request, input.PatientID, models.RolePatient, EventSOSConfirmed, newConfirmedPayload(request))

	return request, nil
}

func (s *dispatchService) resolveOrigin(ctx context.Context, input *SubmitSOSInput) (float64, float64, models.LocationSource, error) {
	if input.Latitude != nil && input.Longitude != nil {
		if !utils.IsValidCoordinates(*input.Latitude, *input.Longitude) {
			return 0, 0, "", ErrInvalidCoordinates
		}
		return *input.Latitude, *input.Longitude, models.LocationSourceRequest, nil
	}

	sample, err := s.locations.Get(ctx, input.PatientID)
	if err != nil {
		s.logger.WithError(err).WithField("patient_id", input.PatientID.Hex()).Warn("Location store lookup failed")
	}
	if sample != nil {
		return sample.Latitude, sample.Longitude, models.LocationSourceStored, nil
	}

	if s.config.StrictLocation {
		return 0, 0, "", ErrNoLocationAvailable
	}
	return s.config.DefaultLatitude, s.config.DefaultLongitude, models.LocationSourceFallback, nil
}

func (s *dispatchService) reachableFacilities(ctx context.Context) ([]*models.Facility, error) {
	facilities, err := s.facilityRepo.ListApproved(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list facilities: %w", err)
	}

	reachable := make([]*models.Facility, 0, len(facilities))
	for _, facility := range facilities {
		if facility.Approved && facility.HasCoordinates() && s.registry.IsReachable(facility.IdentityID, models.RoleHospital) {
			reachable = append(reachable, facility)
		}
	}
	return reachable, nil
}

// patientProfile is best effort: a missing profile only thins the alert.
func (s *dispatchService) patientProfile(ctx context.Context, patientID primitive.ObjectID) *models.PatientProfile {
	profile, err := s.patientRepo.GetByIdentityID(ctx, patientID)
	if err != nil {
		s.logger.WithError(err).WithField("patient_id", patientID.Hex()).Warn("Patient profile unavailable, sending partial alert")
		return nil
	}
	return profile
}

func (s *dispatchService) SubmitDecision(ctx context.Context, input *DecisionInput) (*models.SOSRequest, error) {
	current, err := s.loadRequest(ctx, input.RequestID)
	if err != nil {
		return nil, err
	}

	facilityName := input.FacilityName
	if !input.ActorIdentityID.IsZero() {
		facility, err := s.facilityRepo.GetByID(ctx, input.FacilityID)
		if err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				return nil, ErrFacilityNotFound
			}
			return nil, fmt.Errorf("failed to load facility: %w", err)
		}
		if facility.IdentityID != input.ActorIdentityID {
			return nil, models.ErrSOSFacilityMismatch
		}
		if facilityName == "" {
			facilityName = facility.Name
		}
	}

	updated := current.Clone()
	err = updated.ApplyDecision(models.SOSDecisionInput{
		FacilityID:   input.FacilityID,
		FacilityName: facilityName,
		Decision:     input.Decision,
		Note:         input.Note,
		Reason:       input.Reason,
	}, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.commit(ctx, updated); err != nil {
		return nil, err
	}

	event := models.AuditEventSOSAccepted
	pushEvent := EventSOSAccepted
	if updated.Status == models.SOSStatusRejected {
		event = models.AuditEventSOSRejected
		pushEvent = EventSOSRejected
	}

	s.metrics.IncTransition(string(updated.Status))
	s.audit(ctx, &models.AuditLog{
		RequestID: &updated.ID,
		Event:     event,
		ActorID:   &input.FacilityID,
		ActorRole: models.RoleHospital,
		Status:    updated.Status,
		Details: map[string]interface{}{
			"facility_name": updated.DecidedByName,
			"note":          updated.AcceptanceNote,
			"reason":        updated.DecisionReason,
		},
	})
	s.logger.LogSOSEvent(updated.ID.Hex(), string(updated.Status), map[string]interface{}{
		"facility_id": input.FacilityID.Hex(),
	})

	// Recorded even when the patient is offline.
	if entry, ok := s.registry.Lookup(updated.PatientID); ok && entry.Role == models.RolePatient {
		s.push(ctx, updated, entry, pushEvent, newDecisionPayload(updated))
	} else {
		s.logger.WithField("request_id", updated.ID.Hex()).Info("Patient offline, decision not delivered")
	}

	return updated, nil
}

func (s *dispatchService) Expire(ctx context.Context, requestID primitive.ObjectID) (*models.SOSRequest, error) {
	current, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	updated := current.Clone()
	if err := updated.Expire(s.now()); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, updated); err != nil {
		return nil, err
	}

	s.metrics.IncTransition(string(updated.Status))
	s.audit(ctx, &models.AuditLog{
		RequestID: &updated.ID,
		Event:     models.AuditEventSOSExpired,
		Status:    updated.Status,
	})
	s.logger.LogSOSEvent(updated.ID.Hex(), "expired", nil)

	return updated, nil
}

// ExpireOverdue expires every pending request whose expires_at has passed
// and returns how many were expired.
func (s *dispatchService) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	for {
		overdue, err := s.sosRepo.ListOverdue(ctx, now, overdueBatchSize)
		if err != nil {
			return expired, fmt.Errorf("failed to list overdue requests: %w", err)
		}

		progressed := false
		for _, request := range overdue {
			if _, err := s.Expire(ctx, request.ID); err != nil {
				if errors.Is(err, models.ErrSOSAlreadyResolved) {
					continue
				}
				return expired, err
			}
			expired++
			progressed = true
		}

		if len(overdue) < overdueBatchSize || !progressed {
			return expired, nil
		}
	}
}

func (s *dispatchService) UpdateLocation(ctx context.Context, patientID primitive.ObjectID, latitude, longitude float64) (*models.LocationSample, error) {
	if !utils.IsValidCoordinates(latitude, longitude) {
		return nil, ErrInvalidCoordinates
	}

	sample, err := s.locations.Update(ctx, patientID, latitude, longitude)
	if err != nil {
		return nil, err
	}

	s.metrics.IncLocationUpdate()
	s.logger.WithFields(map[string]interface{}{
		"patient_id": patientID.Hex(),
		"latitude":   latitude,
		"longitude":  longitude,
	}).Debug("Patient location updated")

	return sample, nil
}

func (s *dispatchService) GetRequest(ctx context.Context, requestID primitive.ObjectID) (*models.SOSRequest, error) {
	return s.loadRequest(ctx, requestID)
}

func (s *dispatchService) ListRequests(ctx context.Context, filter *models.SOSFilter) ([]*models.SOSRequest, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidStatus, filter.Status)
	}
	return s.sosRepo.List(ctx, filter)
}

func (s *dispatchService) GetRequestEvents(ctx context.Context, requestID primitive.ObjectID) ([]*models.AuditLog, error) {
	if _, err := s.loadRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return s.auditRepo.GetByRequestID(ctx, requestID)
}

func (s *dispatchService) GetStatistics(ctx context.Context, startDate, endDate *time.Time) (*models.SOSStatistics, error) {
	if startDate == nil && endDate == nil {
		end := s.now()
		start := end.Add(-utils.DefaultStatsWindow)
		startDate, endDate = &start, &end
	}
	return s.sosRepo.GetStatistics(ctx, startDate, endDate)
}

func (s *dispatchService) FacilityForIdentity(ctx context.Context, identityID primitive.ObjectID) (*models.Facility, error) {
	facility, err := s.facilityRepo.GetByIdentityID(ctx, identityID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrFacilityNotFound
		}
		return nil, err
	}
	return facility, nil
}

func (s *dispatchService) loadRequest(ctx context.Context, requestID primitive.ObjectID) (*models.SOSRequest, error) {
	request, err := s.sosRepo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrSOSNotFound
		}
		return nil, fmt.Errorf("failed to load sos request: %w", err)
	}
	return request, nil
}

// commit writes a transition only if the stored record is still pending.
func (s *dispatchService) commit(ctx context.Context, updated *models.SOSRequest) error {
	err := s.sosRepo.UpdateIfPending(ctx, updated)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, interfaces.ErrConflict):
		return models.ErrSOSAlreadyResolved
	case errors.Is(err, interfaces.ErrNotFound):
		return ErrSOSNotFound
	default:
		return fmt.Errorf("failed to persist sos transition: %w", err)
	}
}

func (s *dispatchService) deliver(ctx context.Context, request *models.SOSRequest, identityID primitive.ObjectID, role models.Role, event string, payload interface{}) {
	entry, ok := s.registry.Lookup(identityID)
	if !ok || entry.Role != role {
		s.recordDeliveryFailure(ctx, request, identityID, event, ErrDeliveryFailed)
		return
	}
	s.push(ctx, request, entry, event, payload)
}

func (s *dispatchService) push(ctx context.Context, request *models.SOSRequest, entry ConnectionEntry, event string, payload interface{}) {
	if err := entry.Handle.Push(event, payload); err != nil {
		s.recordDeliveryFailure(ctx, request, entry.IdentityID, event, err)
	}
}

func (s *dispatchService) recordDeliveryFailure(ctx context.Context, request *models.SOSRequest, identityID primitive.ObjectID, event string, err error) {
	if !errors.Is(err, ErrDeliveryFailed) {
		err = fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	s.metrics.IncDeliveryFailure(event)
	s.logger.WithError(err).WithFields(map[string]interface{}{
		"request_id":  request.ID.Hex(),
		"identity_id": identityID.Hex(),
		"event":       event,
	}).Warn("Push not delivered")
	s.audit(ctx, &models.AuditLog{
		RequestID: &request.ID,
		Event:     models.AuditEventDeliveryFailed,
		ActorID:   &identityID,
		Status:    request.Status,
		Details:   map[string]interface{}{"event": event, "error": err.Error()},
	})
}

// audit never fails the calling operation; the log store is not needed for
// live dispatch.
func (s *dispatchService) audit(ctx context.Context, entry *models.AuditLog) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if err := s.auditRepo.Append(ctx, entry); err != nil {
		s.logger.WithError(err).WithField("event", string(entry.Event)).Error("Failed to append audit log")
	}
}

func outcomeLabel(err error) string {
	switch ErrorCode(err) {
	case CodeNoFacilityAvailable:
		return "no_facility"
	case CodeNoLocationAvailable:
		return "no_location"
	case CodeValidation:
		return "invalid"
	default:
		return "error"
	}
}
