package services

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"medisos/internal/config"
	"medisos/internal/models"
	"medisos/internal/repositories/memory"
	"medisos/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var handleSeq int64

type recordedPush struct {
	event   string
	payload interface{}
}

type fakeHandle struct {
	id string

	mu     sync.Mutex
	pushes []recordedPush
	closed bool
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{id: fmt.Sprintf("handle-%d", atomic.AddInt64(&handleSeq, 1))}
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Push(event string, payload interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("connection closed")
	}
	h.pushes = append(h.pushes, recordedPush{event: event, payload: payload})
	return nil
}

func (h *fakeHandle) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}

func (h *fakeHandle) Events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	events := make([]string, len(h.pushes))
	for i, p := range h.pushes {
		events[i] = p.event
	}
	return events
}

func (h *fakeHandle) Last() (recordedPush, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pushes) == 0 {
		return recordedPush{}, false
	}
	return h.pushes[len(h.pushes)-1], true
}

type dispatchFixture struct {
	service    *dispatchService
	registry   *ConnectionRegistry
	locations  LocationStore
	facilities *memory.FacilityRepository
	patients   *memory.PatientRepository
	requests   *memory.SOSRequestRepository
	audit      *memory.AuditLogRepository
	config     *config.DispatchConfig
	clock      time.Time
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()

	f := &dispatchFixture{
		registry:   NewConnectionRegistry(nil),
		locations:  NewMemoryLocationStore(),
		facilities: memory.NewFacilityRepository(),
		patients:   memory.NewPatientRepository(),
		requests:   memory.NewSOSRequestRepository(),
		audit:      memory.NewAuditLogRepository(),
		config: &config.DispatchConfig{
			DefaultLatitude:  12.9716,
			DefaultLongitude: 77.5946,
			AverageSpeedKMH:  40,
			RequestTTL:       30 * time.Minute,
			Storage:          config.StoreMemory,
			LocationStore:    config.StoreMemory,
		},
		clock: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	f.service = NewDispatchService(
		f.config,
		f.registry,
		f.locations,
		f.facilities,
		f.patients,
		f.requests,
		f.audit,
		nil,
		logger.NewNop(),
	).(*dispatchService)
	f.service.now = func() time.Time { return f.clock }

	return f
}

// addHospital registers an approved facility and, when online, a live
// hospital connection for it.
func (f *dispatchFixture) addHospital(name string, lat, lng float64, online bool) (*models.Facility, *fakeHandle) {
	facility := &models.Facility{
		IdentityID: primitive.NewObjectID(),
		Name:       name,
		Location:   models.NewGeoPoint(lat, lng),
		Approved:   true,
	}
	f.facilities.Add(facility)

	if !online {
		return facility, nil
	}
	handle := newFakeHandle()
	f.registry.Connect(facility.IdentityID, models.RoleHospital, handle)
	return facility, handle
}

func (f *dispatchFixture) addPatient(online bool) (primitive.ObjectID, *fakeHandle) {
	patientID := primitive.NewObjectID()
	dob := time.Date(1990, 1, 15, 0, 0, 0, 0, time.UTC)
	f.patients.Add(&models.PatientProfile{
		IdentityID:  patientID,
		Name:        "Asha Rao",
		Phone:       "+919800000001",
		DateOfBirth: &dob,
		Gender:      "female",
		EmergencyContact: &models.EmergencyContact{
			Name:  "Ravi Rao",
			Phone: "+919800000002",
		},
	})

	if !online {
		return patientID, nil
	}
	handle := newFakeHandle()
	f.registry.Connect(patientID, models.RolePatient, handle)
	return patientID, handle
}

func floatPtr(v float64) *float64 {
	return &v
}
