package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"medisos/internal/config"
	"medisos/internal/middleware"
	"medisos/internal/models"
	"medisos/internal/repositories/memory"
	"medisos/internal/services"
	"medisos/internal/utils"
	"medisos/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const testSecret = "rest-secret"

type nopHandle struct{ id string }

func (h nopHandle) ID() string                     { return h.id }
func (h nopHandle) Push(string, interface{}) error { return nil }

type apiResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Meta   *utils.Meta     `json:"meta"`
	Error  *utils.APIError `json:"error"`
}

type restEnv struct {
	router     *gin.Engine
	dispatch   services.DispatchService
	registry   *services.ConnectionRegistry
	facilities *memory.FacilityRepository
}

func newRestEnv(t *testing.T) *restEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &restEnv{
		registry:   services.NewConnectionRegistry(nil),
		facilities: memory.NewFacilityRepository(),
	}
	env.dispatch = services.NewDispatchService(
		&config.DispatchConfig{
			DefaultLatitude:  12.9716,
			DefaultLongitude: 77.5946,
			AverageSpeedKMH:  40,
			Storage:          config.StoreMemory,
			LocationStore:    config.StoreMemory,
		},
		env.registry,
		services.NewMemoryLocationStore(),
		env.facilities,
		memory.NewPatientRepository(),
		memory.NewSOSRequestRepository(),
		memory.NewAuditLogRepository(),
		nil,
		logger.NewNop(),
	)

	h := NewSOSHandler(env.dispatch, logger.NewNop())
	env.router = gin.New()
	sos := env.router.Group("/sos", middleware.AuthRequired(testSecret))
	sos.POST("/accept", middleware.HospitalRequired(), h.AcceptSOS)
	sos.POST("/reject", middleware.HospitalRequired(), h.RejectSOS)
	sos.GET("/mine", middleware.PatientRequired(), h.ListMine)
	sos.GET("/my-facility/pending", middleware.HospitalRequired(), h.ListMyFacilityPending)
	sos.GET("/dashboard", middleware.RequireRoles(models.RoleAdmin, models.RoleHospital), h.Dashboard)
	sos.GET("/recent-activity", h.RecentActivity)
	sos.GET("/:id", h.GetSOS)
	sos.GET("/:id/events", h.GetSOSEvents)
	admin := sos.Group("", middleware.RequireRoles(models.RoleAdmin))
	admin.POST("/:id/expire", h.ExpireSOS)
	admin.GET("/by-status/:status", h.ListByStatus)
	admin.GET("/statistics", h.GetStatistics)
	admin.GET("/audit", h.ListAuditLogs)
	admin.GET("/audit/hospital-responses", h.ListHospitalResponses)

	return env
}

func (e *restEnv) addHospital(t *testing.T, name string, lat, lng float64) *models.Facility {
	t.Helper()
	facility := &models.Facility{
		IdentityID: primitive.NewObjectID(),
		Name:       name,
		Location:   models.NewGeoPoint(lat, lng),
		Approved:   true,
	}
	e.facilities.Add(facility)
	e.registry.Connect(facility.IdentityID, models.RoleHospital, nopHandle{id: facility.IdentityID.Hex()})
	return facility
}

func (e *restEnv) submit(t *testing.T, patientID primitive.ObjectID) *models.SOSRequest {
	t.Helper()
	lat, lng := 12.90, 77.50
	request, err := e.dispatch.SubmitSOS(context.Background(), &services.SubmitSOSInput{
		PatientID: patientID,
		Latitude:  &lat,
		Longitude: &lng,
	})
	if err != nil {
		t.Fatalf("SubmitSOS: %v", err)
	}
	return request
}

func (e *restEnv) do(t *testing.T, method, path string, identity primitive.ObjectID, role models.Role, body interface{}) (int, apiResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	token, err := utils.GenerateAccessToken(identity, string(role), testSecret, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp apiResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w.Code, resp
}

func decodeRequest(t *testing.T, raw json.RawMessage) models.SOSRequest {
	t.Helper()
	var request models.SOSRequest
	if err := json.Unmarshal(raw, &request); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return request
}

func TestAcceptSOSOverREST(t *testing.T) {
	env := newRestEnv(t)
	hospital := env.addHospital(t, "City Care", 12.95, 77.55)
	request := env.submit(t, primitive.NewObjectID())

	code, resp := env.do(t, http.MethodPost, "/sos/accept", hospital.IdentityID, models.RoleHospital,
		map[string]string{"request_id": request.ID.Hex(), "note": "ambulance dispatched"})
	if code != http.StatusOK {
		t.Fatalf("accept returned %d: %+v", code, resp.Error)
	}
	accepted := decodeRequest(t, resp.Data)
	if accepted.Status != models.SOSStatusAccepted || accepted.AcceptanceNote != "ambulance dispatched" {
		t.Fatalf("unexpected request after accept: %+v", accepted)
	}

	code, resp = env.do(t, http.MethodPost, "/sos/accept", hospital.IdentityID, models.RoleHospital,
		map[string]string{"request_id": request.ID.Hex()})
	if code != http.StatusConflict || resp.Error == nil || resp.Error.Code != services.CodeInvalidTransition {
		t.Fatalf("second accept: got %d %+v, want 409 %s", code, resp.Error, services.CodeInvalidTransition)
	}
}

func TestRejectSOSRequiresReason(t *testing.T) {
	env := newRestEnv(t)
	hospital := env.addHospital(t, "City Care", 12.95, 77.55)
	request := env.submit(t, primitive.NewObjectID())

	code, resp := env.do(t, http.MethodPost, "/sos/reject", hospital.IdentityID, models.RoleHospital,
		map[string]string{"request_id": request.ID.Hex()})
	if code != http.StatusBadRequest || resp.Error == nil || resp.Error.Details["reason"] != "is required" {
		t.Fatalf("got %d %+v, want reason validation error", code, resp.Error)
	}

	code, resp = env.do(t, http.MethodPost, "/sos/reject", hospital.IdentityID, models.RoleHospital,
		map[string]string{"request_id": request.ID.Hex(), "reason": "no ICU beds"})
	if code != http.StatusOK {
		t.Fatalf("reject returned %d: %+v", code, resp.Error)
	}
	if rejected := decodeRequest(t, resp.Data); rejected.Status != models.SOSStatusRejected || rejected.DecisionReason != "no ICU beds" {
		t.Fatalf("unexpected request after reject: %+v", rejected)
	}
}

func TestDecisionValidation(t *testing.T) {
	env := newRestEnv(t)
	hospital := env.addHospital(t, "City Care", 12.95, 77.55)

	code, resp := env.do(t, http.MethodPost, "/sos/accept", hospital.IdentityID, models.RoleHospital,
		map[string]string{"request_id": "123"})
	if code != http.StatusBadRequest || resp.Error.Details["request_id"] == "" {
		t.Fatalf("got %d %+v, want request_id validation error", code, resp.Error)
	}

	code, resp = env.do(t, http.MethodPost, "/sos/accept", hospital.IdentityID, models.RoleHospital,
		map[string]string{"request_id": primitive.NewObjectID().Hex()})
	if code != http.StatusNotFound || resp.Error.Code != services.CodeNotFound {
		t.Fatalf("got %d %+v, want 404", code, resp.Error)
	}

	// Patients cannot reach the hospital endpoints.
	code, _ = env.do(t, http.MethodPost, "/sos/accept", primitive.NewObjectID(), models.RolePatient,
		map[string]string{"request_id": primitive.NewObjectID().Hex()})
	if code != http.StatusForbidden {
		t.Fatalf("patient accept returned %d, want 403", code)
	}
}

func TestAcceptByUnassignedHospital(t *testing.T) {
	env := newRestEnv(t)
	env.addHospital(t, "City Care", 12.95, 77.55)
	request := env.submit(t, primitive.NewObjectID())

	// Registered far away so it is never the nearest.
	other := env.addHospital(t, "Far Clinic", 13.50, 78.20)
	code, resp := env.do(t, http.MethodPost, "/sos/accept", other.IdentityID, models.RoleHospital,
		map[string]string{"request_id": request.ID.Hex()})
	if code != http.StatusForbidden || resp.Error.Code != services.CodeFacilityMismatch {
		t.Fatalf("got %d %+v, want 403 %s", code, resp.Error, services.CodeFacilityMismatch)
	}

	stored, err := env.dispatch.GetRequest(context.Background(), request.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if stored.Status != models.SOSStatusPending {
		t.Fatalf("status = %s, want pending", stored.Status)
	}
}

func TestGetSOSVisibility(t *testing.T) {
	env := newRestEnv(t)
	hospital := env.addHospital(t, "City Care", 12.95, 77.55)
	patientID := primitive.NewObjectID()
	request := env.submit(t, patientID)
	path := "/sos/" + request.ID.Hex()

	cases := []struct {
		name     string
		identity primitive.ObjectID
		role     models.Role
		want     int
	}{
		{"owner", patientID, models.RolePatient, http.StatusOK},
		{"other patient", primitive.NewObjectID(), models.RolePatient, http.StatusForbidden},
		{"assigned hospital", hospital.IdentityID, models.RoleHospital, http.StatusOK},
		{"admin", primitive.NewObjectID(), models.RoleAdmin, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, resp := env.do(t, http.MethodGet, path, tc.identity, tc.role, nil)
			if code != tc.want {
				t.Fatalf("got %d %+v, want %d", code, resp.Error, tc.want)
			}
		})
	}

	code, resp := env.do(t, http.MethodGet, path+"/events", patientID, models.RolePatient, nil)
	if code != http.StatusOK {
		t.Fatalf("events returned %d", code)
	}
	var events []models.AuditLog
	if err := json.Unmarshal(resp.Data, &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) == 0 || events[0].Event != models.AuditEventSOSCreated {
		t.Fatalf("unexpected events %+v", events)
	}

	code, _ = env.do(t, http.MethodGet, "/sos/not-an-id", patientID, models.RolePatient, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("bad id returned %d, want 400", code)
	}
}

func TestAdminEndpoints(t *testing.T) {
	env := newRestEnv(t)
	hospital := env.addHospital(t, "City Care", 12.95, 77.55)
	admin := primitive.NewObjectID()

	first := env.submit(t, primitive.NewObjectID())
	env.submit(t, primitive.NewObjectID())

	code, resp := env.do(t, http.MethodPost, fmt.Sprintf("/sos/%s/expire", first.ID.Hex()), admin, models.RoleAdmin, nil)
	if code != http.StatusOK || decodeRequest(t, resp.Data).Status != models.SOSStatusExpired {
		t.Fatalf("expire returned %d %+v", code, resp.Error)
	}

	code, resp = env.do(t, http.MethodGet, "/sos/by-status/pending", admin, models.RoleAdmin, nil)
	if code != http.StatusOK || resp.Meta == nil || resp.Meta.Count != 1 {
		t.Fatalf("by-status returned %d meta=%+v", code, resp.Meta)
	}

	code, _ = env.do(t, http.MethodGet, "/sos/by-status/unknown", admin, models.RoleAdmin, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("unknown status returned %d, want 400", code)
	}

	code, resp = env.do(t, http.MethodGet, "/sos/my-facility/pending", hospital.IdentityID, models.RoleHospital, nil)
	if code != http.StatusOK || resp.Meta.Count != 1 {
		t.Fatalf("my-facility/pending returned %d meta=%+v", code, resp.Meta)
	}

	code, resp = env.do(t, http.MethodGet, "/sos/statistics", admin, models.RoleAdmin, nil)
	if code != http.StatusOK {
		t.Fatalf("statistics returned %d", code)
	}
	var stats models.SOSStatistics
	if err := json.Unmarshal(resp.Data, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalRequests != 2 {
		t.Fatalf("total = %d, want 2", stats.TotalRequests)
	}

	code, _ = env.do(t, http.MethodGet, "/sos/statistics?start_date=yesterday", admin, models.RoleAdmin, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("bad date returned %d, want 400", code)
	}

	code, _ = env.do(t, http.MethodGet, "/sos/statistics", hospital.IdentityID, models.RoleHospital, nil)
	if code != http.StatusForbidden {
		t.Fatalf("hospital statistics returned %d, want 403", code)
	}
}

func decodeAuditLogs(t *testing.T, raw json.RawMessage) []models.AuditLog {
	t.Helper()
	var entries []models.AuditLog
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.Fatalf("decode audit logs: %v", err)
	}
	return entries
}

func TestDashboardOverREST(t *testing.T) {
	env := newRestEnv(t)
	hospital := env.addHospital(t, "City Care", 12.95, 77.55)
	first := env.submit(t, primitive.NewObjectID())
	env.submit(t, primitive.NewObjectID())

	code, resp := env.do(t, http.MethodPost, "/sos/accept", hospital.IdentityID, models.RoleHospital,
		map[string]string{"request_id": first.ID.Hex()})
	if code != http.StatusOK {
		t.Fatalf("accept returned %d: %+v", code, resp.Error)
	}

	code, resp = env.do(t, http.MethodGet, "/sos/dashboard", primitive.NewObjectID(), models.RoleAdmin, nil)
	if code != http.StatusOK {
		t.Fatalf("admin dashboard returned %d: %+v", code, resp.Error)
	}
	var admin models.SOSDashboard
	if err := json.Unmarshal(resp.Data, &admin); err != nil {
		t.Fatalf("decode dashboard: %v", err)
	}
	if admin.Statistics == nil || admin.Statistics.TotalRequests != 2 || len(admin.PendingRequests) != 1 {
		t.Fatalf("admin dashboard = %+v", admin)
	}

	code, resp = env.do(t, http.MethodGet, "/sos/dashboard", hospital.IdentityID, models.RoleHospital, nil)
	if code != http.StatusOK {
		t.Fatalf("hospital dashboard returned %d: %+v", code, resp.Error)
	}
	var own models.SOSDashboard
	if err := json.Unmarshal(resp.Data, &own); err != nil {
		t.Fatalf("decode dashboard: %v", err)
	}
	if own.FacilityName != "City Care" || own.StatusCounts[models.SOSStatusAccepted] != 1 || own.StatusCounts[models.SOSStatusPending] != 1 {
		t.Fatalf("hospital dashboard = %+v", own)
	}
	if own.Statistics != nil {
		t.Error("hospital dashboard carries global statistics")
	}

	code, _ = env.do(t, http.MethodGet, "/sos/dashboard", primitive.NewObjectID(), models.RolePatient, nil)
	if code != http.StatusForbidden {
		t.Fatalf("patient dashboard returned %d, want 403", code)
	}
}

func TestAuditBrowsingOverREST(t *testing.T) {
	env := newRestEnv(t)
	hospital := env.addHospital(t, "City Care", 12.95, 77.55)
	admin := primitive.NewObjectID()
	first := env.submit(t, primitive.NewObjectID())
	second := env.submit(t, primitive.NewObjectID())

	env.do(t, http.MethodPost, "/sos/accept", hospital.IdentityID, models.RoleHospital,
		map[string]string{"request_id": first.ID.Hex()})
	env.do(t, http.MethodPost, "/sos/reject", hospital.IdentityID, models.RoleHospital,
		map[string]string{"request_id": second.ID.Hex(), "reason": "no beds"})

	code, resp := env.do(t, http.MethodGet, "/sos/audit?event=sos_created", admin, models.RoleAdmin, nil)
	if code != http.StatusOK || resp.Meta == nil || resp.Meta.Count != 2 {
		t.Fatalf("audit by event returned %d meta=%+v", code, resp.Meta)
	}
	for _, entry := range decodeAuditLogs(t, resp.Data) {
		if entry.Event != models.AuditEventSOSCreated {
			t.Errorf("unexpected event %s", entry.Event)
		}
	}

	code, resp = env.do(t, http.MethodGet, "/sos/audit?event=sos_accepted&event=sos_rejected&limit=1", admin, models.RoleAdmin, nil)
	if code != http.StatusOK || resp.Meta.Count != 1 || resp.Meta.Limit != 1 {
		t.Fatalf("paginated audit returned %d meta=%+v", code, resp.Meta)
	}

	code, resp = env.do(t, http.MethodGet, "/sos/audit/hospital-responses?facility_id="+hospital.ID.Hex(), admin, models.RoleAdmin, nil)
	if code != http.StatusOK {
		t.Fatalf("hospital-responses returned %d: %+v", code, resp.Error)
	}
	responses := decodeAuditLogs(t, resp.Data)
	if len(responses) != 2 || responses[0].Event != models.AuditEventSOSRejected {
		t.Fatalf("hospital-responses = %+v", responses)
	}

	code, resp = env.do(t, http.MethodGet, "/sos/audit/hospital-responses?status=accepted", admin, models.RoleAdmin, nil)
	if code != http.StatusOK || resp.Meta.Count != 1 {
		t.Fatalf("accepted responses returned %d meta=%+v", code, resp.Meta)
	}

	bad := []string{
		"/sos/audit?actor_id=nope",
		"/sos/audit?status=lost",
		"/sos/audit?start_date=yesterday",
		"/sos/audit/hospital-responses?facility_id=nope",
	}
	for _, path := range bad {
		if code, _ := env.do(t, http.MethodGet, path, admin, models.RoleAdmin, nil); code != http.StatusBadRequest {
			t.Errorf("%s returned %d, want 400", path, code)
		}
	}

	code, _ = env.do(t, http.MethodGet, "/sos/audit", hospital.IdentityID, models.RoleHospital, nil)
	if code != http.StatusForbidden {
		t.Fatalf("hospital audit returned %d, want 403", code)
	}
}

func TestRecentActivityOverREST(t *testing.T) {
	env := newRestEnv(t)
	hospital := env.addHospital(t, "City Care", 12.95, 77.55)
	patientID := primitive.NewObjectID()
	request := env.submit(t, patientID)

	env.do(t, http.MethodPost, "/sos/accept", hospital.IdentityID, models.RoleHospital,
		map[string]string{"request_id": request.ID.Hex()})

	code, resp := env.do(t, http.MethodGet, "/sos/recent-activity", hospital.IdentityID, models.RoleHospital, nil)
	if code != http.StatusOK {
		t.Fatalf("recent-activity returned %d: %+v", code, resp.Error)
	}
	var activity models.RecentActivity
	if err := json.Unmarshal(resp.Data, &activity); err != nil {
		t.Fatalf("decode activity: %v", err)
	}
	if activity.TotalEvents != 1 || activity.ByEvent[models.AuditEventSOSAccepted] == nil {
		t.Fatalf("hospital activity = %+v", activity)
	}
	if got := activity.EndDate.Sub(activity.StartDate); got != 24*time.Hour {
		t.Errorf("default window = %v, want 24h", got)
	}

	code, resp = env.do(t, http.MethodGet, "/sos/recent-activity?hours=2", patientID, models.RolePatient, nil)
	if code != http.StatusOK {
		t.Fatalf("patient recent-activity returned %d: %+v", code, resp.Error)
	}

	for _, hours := range []string{"0", "169", "soon"} {
		code, _ := env.do(t, http.MethodGet, "/sos/recent-activity?hours="+hours, patientID, models.RolePatient, nil)
		if code != http.StatusBadRequest {
			t.Errorf("hours=%s returned %d, want 400", hours, code)
		}
	}
}
