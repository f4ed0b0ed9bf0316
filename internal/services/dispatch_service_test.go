package services

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"medisos/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestSubmitSOSAssignsNearestReachableHospital(t *testing.T) {
	f := newDispatchFixture(t)
	near, nearHandle := f.addHospital("City Hospital", 12.95, 77.55, true)
	_, farHandle := f.addHospital("Lake Clinic", 13.00, 77.60, true)
	patientID, patientHandle := f.addPatient(true)

	request, err := f.service.SubmitSOS(context.Background(), &SubmitSOSInput{
		PatientID:        patientID,
		Latitude:         floatPtr(12.90),
		Longitude:        floatPtr(77.50),
		EmergencyDetails: models.EmergencyDetails{Symptoms: "chest pain", Severity: "high"},
	})
	if err != nil {
		t.Fatalf("SubmitSOS failed: %v", err)
	}

	if request.Status != models.SOSStatusPending {
		t.Errorf("status = %s, want pending", request.Status)
	}
	if request.AssignedFacilityID != near.ID {
		t.Errorf("assigned %s, want %s", request.AssignedFacilityName, near.Name)
	}
	if math.Abs(request.DistanceKM-7.6) > 0.25 {
		t.Errorf("distance = %.3f, want about 7.6", request.DistanceKM)
	}
	if request.LocationSource != models.LocationSourceRequest {
		t.Errorf("location source = %s, want request", request.LocationSource)
	}
	if request.ETAMinutes != 12 {
		t.Errorf("eta = %d, want 12", request.ETAMinutes)
	}
	if request.ExpiresAt == nil || !request.ExpiresAt.Equal(f.clock.Add(30*time.Minute)) {
		t.Errorf("expires_at = %v, want created + ttl", request.ExpiresAt)
	}

	alert, ok := nearHandle.Last()
	if !ok || alert.event != EventSOSAlert {
		t.Fatalf("expected sos_alert to nearest hospital, got %v", nearHandle.Events())
	}
	payload := alert.payload.(SOSAlertPayload)
	if payload.Patient.Name != "Asha Rao" || payload.Patient.Age != 34 {
		t.Errorf("alert patient context = %+v", payload.Patient)
	}
	if payload.Patient.EmergencyContact == nil || payload.Patient.EmergencyContact.Name != "Ravi Rao" {
		t.Errorf("alert missing emergency contact")
	}
	if payload.EmergencyDetails.Symptoms != "chest pain" {
		t.Errorf("alert missing emergency details")
	}
	if len(farHandle.Events()) != 0 {
		t.Errorf("farther hospital received %v", farHandle.Events())
	}

	confirmed, ok := patientHandle.Last()
	if !ok || confirmed.event != EventSOSConfirmed {
		t.Fatalf("expected sos_confirmed to patient, got %v", patientHandle.Events())
	}
	if confirmed.payload.(SOSConfirmedPayload).FacilityName != "City Hospital" {
		t.Errorf("confirmation names wrong facility")
	}

	stored, err := f.requests.GetByID(context.Background(), request.ID)
	if err != nil || stored.Status != models.SOSStatusPending {
		t.Fatalf("expected stored pending request, got %+v, %v", stored, err)
	}

	entries, _ := f.audit.GetByRequestID(context.Background(), request.ID)
	if len(entries) != 1 || entries[0].Event != models.AuditEventSOSCreated {
		t.Errorf("expected one sos_created audit entry, got %+v", entries)
	}
}

func TestSubmitSOSSkipsUnreachableHospitals(t *testing.T) {
	f := newDispatchFixture(t)
	f.addHospital("Offline Near", 12.95, 77.55, false)
	far, _ := f.addHospital("Online Far", 13.00, 77.60, true)
	patientID, _ := f.addPatient(true)

	request, err := f.service.SubmitSOS(context.Background(), &SubmitSOSInput{
		PatientID: patientID,
		Latitude:  floatPtr(12.90),
		Longitude: floatPtr(77.50),
	})
	if err != nil {
		t.Fatalf("SubmitSOS failed: %v", err)
	}
	if request.AssignedFacilityID != far.ID {
		t.Errorf("assigned %s, want the online hospital", request.AssignedFacilityName)
	}
}

func TestSubmitSOSNoFacilityAvailable(t *testing.T) {
	f := newDispatchFixture(t)
	f.addHospital("Offline", 12.95, 77.55, false)
	patientID, _ := f.addPatient(true)

	_, err := f.service.SubmitSOS(context.Background(), &SubmitSOSInput{
		PatientID: patientID,
		Latitude:  floatPtr(12.90),
		Longitude: floatPtr(77.50),
	})
	if !errors.Is(err, ErrNoFacilityAvailable) {
		t.Fatalf("err = %v, want ErrNoFacilityAvailable", err)
	}

	requests, _ := f.requests.List(context.Background(), nil)
	if len(requests) != 0 {
		t.Errorf("expected no request to be created, found %d", len(requests))
	}
}

func TestSubmitSOSOutsideRadius(t *testing.T) {
	f := newDispatchFixture(t)
	f.config.SearchRadiusKM = 5
	f.addHospital("City Hospital", 12.95, 77.55, true)
	patientID, _ := f.addPatient(true)

	_, err := f.service.SubmitSOS(context.Background(), &SubmitSOSInput{
		PatientID: patientID,
		Latitude:  floatPtr(12.90),
		Longitude: floatPtr(77.50),
	})
	if !errors.Is(err, ErrNoFacilityAvailable) {
		t.Fatalf("err = %v, want ErrNoFacilityAvailable", err)
	}
}

func TestSubmitSOSUsesStoredLocation(t *testing.T) {
	f := newDispatchFixture(t)
	f.addHospital("Remote Hospital", 10.05, 20.05, true)
	patientID, _ := f.addPatient(true)

	if _, err := f.service.UpdateLocation(context.Background(), patientID, 10.0, 20.0); err != nil {
		t.Fatalf("UpdateLocation failed: %v", err)
	}

	request, err := f.service.SubmitSOS(context.Background(), &SubmitSOSInput{PatientID: patientID})
	if err != nil {
		t.Fatalf("SubmitSOS failed: %v", err)
	}
	if request.Latitude != 10.0 || request.Longitude != 20.0 {
		t.Errorf("origin = (%v, %v), want (10, 20)", request.Latitude, request.Longitude)
	}
	if request.LocationSource != models.LocationSourceStored {
		t.Errorf("location source = %s, want stored", request.LocationSource)
	}
}

func TestSubmitSOSFallbackAndStrictLocation(t *testing.T) {
	f := newDispatchFixture(t)
	f.addHospital("City Hospital", 12.95, 77.55, true)
	patientID, _ := f.addPatient(true)

	request, err := f.service.SubmitSOS(context.Background(), &SubmitSOSInput{PatientID: patientID})
	if err != nil {
		t.Fatalf("SubmitSOS failed: %v", err)
	}
	if request.Latitude != 12.9716 || request.Longitude != 77.5946 {
		t.Errorf("expected configured fallback origin, got (%v, %v)", request.Latitude, request.Longitude)
	}
	if request.LocationSource != models.LocationSourceFallback {
		t.Errorf("location source = %s, want fallback", request.LocationSource)
	}

	f.config.StrictLocation = true
	_, err = f.service.SubmitSOS(context.Background(), &SubmitSOSInput{PatientID: patientID})
	if !errors.Is(err, ErrNoLocationAvailable) {
		t.Fatalf("err = %v, want ErrNoLocationAvailable", err)
	}
}

func TestSubmitSOSInvalidCoordinates(t *testing.T) {
	f := newDispatchFixture(t)
	f.addHospital("City Hospital", 12.95, 77.55, true)
	patientID, _ := f.addPatient(true)

	_, err := f.service.SubmitSOS(context.Background(), &SubmitSOSInput{
		PatientID: patientID,
		Latitude:  floatPtr(120),
		Longitude: floatPtr(77.5),
	})
	if !errors.Is(err, ErrInvalidCoordinates) {
		t.Fatalf("err = %v, want ErrInvalidCoordinates", err)
	}
}

func TestSubmitSOSWithoutProfileSendsPartialAlert(t *testing.T) {
	f := newDispatchFixture(t)
	_, hospitalHandle := f.addHospital("City Hospital", 12.95, 77.55, true)
	patientID := primitive.NewObjectID()

	if _, err := f.service.SubmitSOS(context.Background(), &SubmitSOSInput{
		PatientID: patientID,
		Latitude:  floatPtr(12.90),
		Longitude: floatPtr(77.50),
	}); err != nil {
		t.Fatalf("SubmitSOS failed: %v", err)
	}

	alert, ok := hospitalHandle.Last()
	if !ok {
		t.Fatalf("expected alert")
	}
	patient := alert.payload.(SOSAlertPayload).Patient
	if patient.ID != patientID || patient.Name != "" {
		t.Errorf("expected id-only patient context, got %+v", patient)
	}
}

func TestSubmitSOSHospitalDropsBeforePush(t *testing.T) {
	f := newDispatchFixture(t)
	_, hospitalHandle := f.addHospital("City Hospital", 12.95, 77.55, true)
	patientID, patientHandle := f.addPatient(true)
	hospitalHandle.Close()

	request, err := f.service.SubmitSOS(context.Background(), &SubmitSOSInput{
		PatientID: patientID,
		Latitude:  floatPtr(12.90),
		Longitude: floatPtr(77.50),
	})
	if err != nil {
		t.Fatalf("SubmitSOS failed: %v", err)
	}

	if events := patientHandle.Events(); len(events) != 1 || events[0] != EventSOSConfirmed {
		t.Errorf("patient events = %v, want confirmation", events)
	}

	entries, _ := f.audit.GetByRequestID(context.Background(), request.ID)
	var failures int
	for _, e := range entries {
		if e.Event == models.AuditEventDeliveryFailed {
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("delivery_failed entries = %d, want 1", failures)
	}
}

func submitPending(t *testing.T, f *dispatchFixture) (*models.SOSRequest, *models.Facility, *fakeHandle) {
	t.Helper()
	facility, _ := f.addHospital("City Hospital", 12.95, 77.55, true)
	patientID, patientHandle := f.addPatient(true)

	request, err := f.service.SubmitSOS(context.Background(), &SubmitSOSInput{
		PatientID: patientID,
		Latitude:  floatPtr(12.90),
		Longitude: floatPtr(77.50),
	})
	if err != nil {
		t.Fatalf("SubmitSOS failed: %v", err)
	}
	return request, facility, patientHandle
}

func TestSubmitDecisionAccept(t *testing.T) {
	f := newDispatchFixture(t)
	request, facility, patientHandle := submitPending(t, f)
	f.clock = f.clock.Add(90 * time.Second)

	updated, err := f.service.SubmitDecision(context.Background(), &DecisionInput{
		RequestID:       request.ID,
		ActorIdentityID: facility.IdentityID,
		FacilityID:      facility.ID,
		FacilityName:    facility.Name,
		Decision:        models.SOSDecisionAccept,
		Note:            "Ambulance on the way",
	})
	if err != nil {
		t.Fatalf("SubmitDecision failed: %v", err)
	}
	if updated.Status != models.SOSStatusAccepted || updated.AcceptanceNote != "Ambulance on the way" {
		t.Errorf("unexpected decision result %+v", updated)
	}
	if updated.DecidedAt == nil || !updated.DecidedAt.Equal(f.clock) {
		t.Errorf("decided_at = %v, want %v", updated.DecidedAt, f.clock)
	}

	push, ok := patientHandle.Last()
	if !ok || push.event != EventSOSAccepted {
		t.Fatalf("expected sos_accepted, got %v", patientHandle.Events())
	}
	if note := push.payload.(SOSDecisionPayload).Note; note != "Ambulance on the way" {
		t.Errorf("note = %q", note)
	}

	for _, decision := range []models.SOSDecision{models.SOSDecisionAccept, models.SOSDecisionReject} {
		_, err := f.service.SubmitDecision(context.Background(), &DecisionInput{
			RequestID:  request.ID,
			FacilityID: facility.ID,
			Decision:   decision,
			Reason:     "capacity",
		})
		if ErrorCode(err) != CodeInvalidTransition {
			t.Errorf("second %s: err = %v, want invalid transition", decision, err)
		}
	}

	stored, _ := f.requests.GetByID(context.Background(), request.ID)
	if stored.Status != models.SOSStatusAccepted || stored.AcceptanceNote != "Ambulance on the way" {
		t.Errorf("record changed after rejected transition: %+v", stored)
	}
}

func TestSubmitDecisionReject(t *testing.T) {
	f := newDispatchFixture(t)
	request, facility, patientHandle := submitPending(t, f)

	_, err := f.service.SubmitDecision(context.Background(), &DecisionInput{
		RequestID:  request.ID,
		FacilityID: facility.ID,
		Decision:   models.SOSDecisionReject,
	})
	if !errors.Is(err, models.ErrSOSReasonRequired) {
		t.Fatalf("err = %v, want ErrSOSReasonRequired", err)
	}

	updated, err := f.service.SubmitDecision(context.Background(), &DecisionInput{
		RequestID:    request.ID,
		FacilityID:   facility.ID,
		FacilityName: facility.Name,
		Decision:     models.SOSDecisionReject,
		Reason:       "No ICU beds",
	})
	if err != nil {
		t.Fatalf("SubmitDecision failed: %v", err)
	}
	if updated.Status != models.SOSStatusRejected || updated.DecisionReason != "No ICU beds" {
		t.Errorf("unexpected decision result %+v", updated)
	}

	push, ok := patientHandle.Last()
	if !ok || push.event != EventSOSRejected {
		t.Fatalf("expected sos_rejected, got %v", patientHandle.Events())
	}
}

func TestSubmitDecisionGuards(t *testing.T) {
	f := newDispatchFixture(t)
	request, facility, _ := submitPending(t, f)
	other, _ := f.addHospital("Other Hospital", 13.0, 77.6, true)

	_, err := f.service.SubmitDecision(context.Background(), &DecisionInput{
		RequestID:  primitive.NewObjectID(),
		FacilityID: facility.ID,
		Decision:   models.SOSDecisionAccept,
	})
	if !errors.Is(err, ErrSOSNotFound) {
		t.Errorf("unknown request: err = %v, want ErrSOSNotFound", err)
	}

	_, err = f.service.SubmitDecision(context.Background(), &DecisionInput{
		RequestID:  request.ID,
		FacilityID: other.ID,
		Decision:   models.SOSDecisionAccept,
	})
	if !errors.Is(err, models.ErrSOSFacilityMismatch) {
		t.Errorf("wrong facility: err = %v, want ErrSOSFacilityMismatch", err)
	}

	_, err = f.service.SubmitDecision(context.Background(), &DecisionInput{
		RequestID:       request.ID,
		ActorIdentityID: other.IdentityID,
		FacilityID:      facility.ID,
		Decision:        models.SOSDecisionAccept,
	})
	if !errors.Is(err, models.ErrSOSFacilityMismatch) {
		t.Errorf("foreign identity: err = %v, want ErrSOSFacilityMismatch", err)
	}

	stored, _ := f.requests.GetByID(context.Background(), request.ID)
	if stored.Status != models.SOSStatusPending {
		t.Errorf("status = %s after rejected decisions, want pending", stored.Status)
	}
}

func TestSubmitDecisionPatientOffline(t *testing.T) {
	f := newDispatchFixture(t)
	request, facility, patientHandle := submitPending(t, f)
	f.registry.Disconnect(patientHandle)

	updated, err := f.service.SubmitDecision(context.Background(), &DecisionInput{
		RequestID:  request.ID,
		FacilityID: facility.ID,
		Decision:   models.SOSDecisionAccept,
	})
	if err != nil {
		t.Fatalf("SubmitDecision failed: %v", err)
	}
	if updated.Status != models.SOSStatusAccepted {
		t.Errorf("status = %s, want accepted", updated.Status)
	}
	if events := patientHandle.Events(); len(events) != 1 {
		t.Errorf("offline patient received %v", events)
	}
}

func TestConcurrentDecisionsResolveOnce(t *testing.T) {
	f := newDispatchFixture(t)
	request, facility, _ := submitPending(t, f)

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decision := models.SOSDecisionAccept
			if i%2 == 1 {
				decision = models.SOSDecisionReject
			}
			_, err := f.service.SubmitDecision(context.Background(), &DecisionInput{
				RequestID:  request.ID,
				FacilityID: facility.ID,
				Decision:   decision,
				Reason:     "busy",
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var succeeded int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case ErrorCode(err) != CodeInvalidTransition:
			t.Errorf("unexpected error %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("%d decisions succeeded, want exactly 1", succeeded)
	}
}

func TestExpire(t *testing.T) {
	f := newDispatchFixture(t)
	request, facility, patientHandle := submitPending(t, f)
	before := len(patientHandle.Events())

	expired, err := f.service.Expire(context.Background(), request.ID)
	if err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	if expired.Status != models.SOSStatusExpired || expired.ExpiredAt == nil || expired.DecidedAt != nil {
		t.Errorf("unexpected expired record %+v", expired)
	}
	if len(patientHandle.Events()) != before {
		t.Errorf("expiry pushed to patient: %v", patientHandle.Events())
	}

	if _, err := f.service.Expire(context.Background(), request.ID); ErrorCode(err) != CodeInvalidTransition {
		t.Errorf("second expire: err = %v, want invalid transition", err)
	}
	_, err = f.service.SubmitDecision(context.Background(), &DecisionInput{
		RequestID:  request.ID,
		FacilityID: facility.ID,
		Decision:   models.SOSDecisionAccept,
	})
	if ErrorCode(err) != CodeInvalidTransition {
		t.Errorf("accept after expiry: err = %v, want invalid transition", err)
	}
}

func TestExpireOverdue(t *testing.T) {
	f := newDispatchFixture(t)
	first, _, _ := submitPending(t, f)

	f.clock = f.clock.Add(20 * time.Minute)
	patientID, _ := f.addPatient(true)
	second, err := f.service.SubmitSOS(context.Background(), &SubmitSOSInput{
		PatientID: patientID,
		Latitude:  floatPtr(12.90),
		Longitude: floatPtr(77.50),
	})
	if err != nil {
		t.Fatalf("SubmitSOS failed: %v", err)
	}

	count, err := f.service.ExpireOverdue(context.Background(), f.clock.Add(15*time.Minute))
	if err != nil {
		t.Fatalf("ExpireOverdue failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expired %d, want 1", count)
	}

	stored, _ := f.requests.GetByID(context.Background(), first.ID)
	if stored.Status != models.SOSStatusExpired {
		t.Errorf("first status = %s, want expired", stored.Status)
	}
	stored, _ = f.requests.GetByID(context.Background(), second.ID)
	if stored.Status != models.SOSStatusPending {
		t.Errorf("second status = %s, want pending", stored.Status)
	}
}

func TestGetStatistics(t *testing.T) {
	f := newDispatchFixture(t)
	accepted, _, _ := submitPending(t, f)
	rejected, _, _ := submitPending(t, f)
	submitPending(t, f)

	f.clock = f.clock.Add(time.Minute)
	f.service.SubmitDecision(context.Background(), &DecisionInput{RequestID: accepted.ID, FacilityID: accepted.AssignedFacilityID, Decision: models.SOSDecisionAccept})
	f.service.SubmitDecision(context.Background(), &DecisionInput{RequestID: rejected.ID, FacilityID: rejected.AssignedFacilityID, Decision: models.SOSDecisionReject, Reason: "full"})

	stats, err := f.service.GetStatistics(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("GetStatistics failed: %v", err)
	}
	if stats.TotalRequests != 3 {
		t.Errorf("total = %d, want 3", stats.TotalRequests)
	}
	if stats.ByStatus[models.SOSStatusAccepted] != 1 || stats.ByStatus[models.SOSStatusRejected] != 1 || stats.ByStatus[models.SOSStatusPending] != 1 {
		t.Errorf("by status = %v", stats.ByStatus)
	}
	if math.Abs(stats.AcceptanceRate-100.0/3) > 0.01 {
		t.Errorf("acceptance rate = %.2f", stats.AcceptanceRate)
	}
	if stats.AverageResponseSecs != 60 {
		t.Errorf("average response = %.1f, want 60", stats.AverageResponseSecs)
	}
}

func TestListRequestsRejectsUnknownStatus(t *testing.T) {
	f := newDispatchFixture(t)
	_, err := f.service.ListRequests(context.Background(), &models.SOSFilter{Status: "lost"})
	if ErrorCode(err) != CodeValidation {
		t.Fatalf("err = %v, want validation error", err)
	}
}
