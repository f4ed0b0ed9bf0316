package handlers

import (
	"net/http"
	"strconv"
	"time"

	"medisos/internal/middleware"
	"medisos/internal/models"
	"medisos/internal/services"
	"medisos/internal/utils"
	"medisos/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SOSHandler struct {
	dispatch services.DispatchService
	logger   *logger.Logger
}

func NewSOSHandler(dispatch services.DispatchService, log *logger.Logger) *SOSHandler {
	utils.RegisterBindingValidations()
	return &SOSHandler{
		dispatch: dispatch,
		logger:   log,
	}
}

type acceptSOSRequest struct {
	RequestID    string `json:"request_id" binding:"required,objectid"`
	FacilityID   string `json:"facility_id" binding:"omitempty,objectid"`
	FacilityName string `json:"facility_name" binding:"max=200"`
	Note         string `json:"note" binding:"max=1000"`
}

type rejectSOSRequest struct {
	RequestID    string `json:"request_id" binding:"required,objectid"`
	FacilityID   string `json:"facility_id" binding:"omitempty,objectid"`
	FacilityName string `json:"facility_name" binding:"max=200"`
	Reason       string `json:"reason" binding:"required,max=1000"`
}

// AcceptSOS records a hospital's acceptance of a pending request.
func (h *SOSHandler) AcceptSOS(c *gin.Context) {
	var req acceptSOSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationErrorResponse(c, utils.ValidationErrors(err))
		return
	}

	h.decide(c, req.RequestID, req.FacilityID, &services.DecisionInput{
		FacilityName: req.FacilityName,
		Decision:     models.SOSDecisionAccept,
		Note:         req.Note,
	})
}

// RejectSOS records a hospital's rejection; a reason is mandatory.
func (h *SOSHandler) RejectSOS(c *gin.Context) {
	var req rejectSOSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationErrorResponse(c, utils.ValidationErrors(err))
		return
	}

	h.decide(c, req.RequestID, req.FacilityID, &services.DecisionInput{
		FacilityName: req.FacilityName,
		Decision:     models.SOSDecisionReject,
		Reason:       req.Reason,
	})
}

func (h *SOSHandler) decide(c *gin.Context, rawRequestID, rawFacilityID string, input *services.DecisionInput) {
	requestID, err := primitive.ObjectIDFromHex(rawRequestID)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid request ID")
		return
	}

	identityID, ok := middleware.GetUserID(c)
	if !ok {
		utils.UnauthorizedResponse(c)
		return
	}

	facility, err := h.dispatch.FacilityForIdentity(c.Request.Context(), identityID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	input.FacilityID = facility.ID
	if rawFacilityID != "" {
		facilityID, err := primitive.ObjectIDFromHex(rawFacilityID)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid facility ID")
			return
		}
		input.FacilityID = facilityID
	}
	if input.FacilityName == "" {
		input.FacilityName = facility.Name
	}
	input.RequestID = requestID
	input.ActorIdentityID = identityID

	request, err := h.dispatch.SubmitDecision(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "SOS request "+string(request.Status), request)
}

// ExpireSOS moves a pending request to expired.
func (h *SOSHandler) ExpireSOS(c *gin.Context) {
	requestID, ok := h.requestIDParam(c)
	if !ok {
		return
	}

	request, err := h.dispatch.Expire(c.Request.Context(), requestID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "SOS request expired", request)
}

func (h *SOSHandler) GetSOS(c *gin.Context) {
	request, ok := h.authorizedRequest(c)
	if !ok {
		return
	}
	utils.SuccessResponse(c, "SOS request retrieved", request)
}

func (h *SOSHandler) GetSOSEvents(c *gin.Context) {
	request, ok := h.authorizedRequest(c)
	if !ok {
		return
	}

	events, err := h.dispatch.GetRequestEvents(c.Request.Context(), request.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "SOS events retrieved", events)
}

func (h *SOSHandler) ListByStatus(c *gin.Context) {
	status := models.SOSStatus(c.Param("status"))
	if !status.IsValid() {
		utils.BadRequestResponse(c, "Invalid status")
		return
	}
	h.list(c, &models.SOSFilter{Status: status})
}

// ListPending lists pending requests, optionally for one facility.
func (h *SOSHandler) ListPending(c *gin.Context) {
	filter := &models.SOSFilter{Status: models.SOSStatusPending}
	if raw := c.Query("facility_id"); raw != "" {
		facilityID, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid facility ID")
			return
		}
		filter.FacilityID = &facilityID
	}
	h.list(c, filter)
}

func (h *SOSHandler) ListByFacility(c *gin.Context) {
	facilityID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid facility ID")
		return
	}
	h.list(c, &models.SOSFilter{FacilityID: &facilityID, Status: models.SOSStatus(c.Query("status"))})
}

func (h *SOSHandler) ListMyFacility(c *gin.Context) {
	h.listForOwnFacility(c, models.SOSStatus(c.Query("status")))
}

func (h *SOSHandler) ListMyFacilityPending(c *gin.Context) {
	h.listForOwnFacility(c, models.SOSStatusPending)
}

func (h *SOSHandler) listForOwnFacility(c *gin.Context, status models.SOSStatus) {
	identityID, ok := middleware.GetUserID(c)
	if !ok {
		utils.UnauthorizedResponse(c)
		return
	}

	facility, err := h.dispatch.FacilityForIdentity(c.Request.Context(), identityID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.list(c, &models.SOSFilter{FacilityID: &facility.ID, Status: status})
}

// ListMine lists the calling patient's own requests.
func (h *SOSHandler) ListMine(c *gin.Context) {
	patientID, ok := middleware.GetUserID(c)
	if !ok {
		utils.UnauthorizedResponse(c)
		return
	}
	h.list(c, &models.SOSFilter{PatientID: &patientID, Status: models.SOSStatus(c.Query("status"))})
}

func (h *SOSHandler) GetStatistics(c *gin.Context) {
	startDate, endDate, err := utils.GetDateRange(c)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid date range: use RFC3339")
		return
	}
	if startDate != nil && endDate != nil && endDate.Before(*startDate) {
		utils.BadRequestResponse(c, "end_date must not be before start_date")
		return
	}

	stats, err := h.dispatch.GetStatistics(c.Request.Context(), startDate, endDate)
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "SOS statistics retrieved", stats)
}

// Dashboard returns the caller's overview for the last 30 days.
func (h *SOSHandler) Dashboard(c *gin.Context) {
	identityID, ok := middleware.GetUserID(c)
	if !ok {
		utils.UnauthorizedResponse(c)
		return
	}
	role, _ := middleware.GetUserRole(c)

	dashboard, err := h.dispatch.Dashboard(c.Request.Context(), identityID, role)
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "SOS dashboard retrieved", dashboard)
}

// ListAuditLogs browses the audit trail. event may be repeated; actor_id,
// actor_role, status and the date range narrow the result further.
func (h *SOSHandler) ListAuditLogs(c *gin.Context) {
	filter := &models.AuditFilter{
		ActorRole: models.Role(c.Query("actor_role")),
		Status:    models.SOSStatus(c.Query("status")),
	}
	for _, event := range c.QueryArray("event") {
		filter.Events = append(filter.Events, models.AuditEvent(event))
	}
	if raw := c.Query("actor_id"); raw != "" {
		actorID, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid actor ID")
			return
		}
		filter.ActorID = &actorID
	}
	h.listAudit(c, filter)
}

// ListHospitalResponses lists accept and reject entries, optionally for one
// facility.
func (h *SOSHandler) ListHospitalResponses(c *gin.Context) {
	filter := &models.AuditFilter{
		Events:    models.DecisionEvents,
		ActorRole: models.RoleHospital,
		Status:    models.SOSStatus(c.Query("status")),
	}
	if raw := c.Query("facility_id"); raw != "" {
		facilityID, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid facility ID")
			return
		}
		filter.ActorID = &facilityID
	}
	h.listAudit(c, filter)
}

// RecentActivity summarizes the caller's own audit entries over the last
// hours (default 24, at most a week).
func (h *SOSHandler) RecentActivity(c *gin.Context) {
	identityID, ok := middleware.GetUserID(c)
	if !ok {
		utils.UnauthorizedResponse(c)
		return
	}
	role, _ := middleware.GetUserRole(c)

	maxHours := int(services.MaxActivityWindow / time.Hour)
	hours, err := strconv.Atoi(c.DefaultQuery("hours", "24"))
	if err != nil || hours < 1 || hours > maxHours {
		utils.BadRequestResponse(c, "hours must be between 1 and "+strconv.Itoa(maxHours))
		return
	}

	activity, err := h.dispatch.RecentActivity(c.Request.Context(), identityID, role, time.Duration(hours)*time.Hour)
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Recent activity retrieved", activity)
}

func (h *SOSHandler) listAudit(c *gin.Context, filter *models.AuditFilter) {
	params := utils.GetPaginationParams(c)
	filter.Limit = params.Limit
	filter.Offset = params.Offset

	startDate, endDate, err := utils.GetDateRange(c)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid date range: use RFC3339")
		return
	}
	filter.StartDate = startDate
	filter.EndDate = endDate

	entries, err := h.dispatch.ListAuditLogs(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.SuccessResponseWithMeta(c, "Audit logs retrieved", entries, &utils.Meta{
		Limit:  params.Limit,
		Offset: params.Offset,
		Count:  len(entries),
	})
}

func (h *SOSHandler) list(c *gin.Context, filter *models.SOSFilter) {
	params := utils.GetPaginationParams(c)
	filter.Limit = params.Limit
	filter.Offset = params.Offset

	startDate, endDate, err := utils.GetDateRange(c)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid date range: use RFC3339")
		return
	}
	filter.StartDate = startDate
	filter.EndDate = endDate

	requests, err := h.dispatch.ListRequests(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.SuccessResponseWithMeta(c, "SOS requests retrieved", requests, &utils.Meta{
		Limit:  params.Limit,
		Offset: params.Offset,
		Count:  len(requests),
	})
}

// authorizedRequest loads the :id request and checks the caller may see it:
// admins see everything, patients their own, hospitals their assigned ones.
func (h *SOSHandler) authorizedRequest(c *gin.Context) (*models.SOSRequest, bool) {
	requestID, ok := h.requestIDParam(c)
	if !ok {
		return nil, false
	}

	identityID, ok := middleware.GetUserID(c)
	if !ok {
		utils.UnauthorizedResponse(c)
		return nil, false
	}
	role, _ := middleware.GetUserRole(c)

	request, err := h.dispatch.GetRequest(c.Request.Context(), requestID)
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}

	switch role {
	case models.RoleAdmin:
		return request, true
	case models.RolePatient:
		if request.PatientID == identityID {
			return request, true
		}
	case models.RoleHospital:
		facility, err := h.dispatch.FacilityForIdentity(c.Request.Context(), identityID)
		if err == nil && facility.ID == request.AssignedFacilityID {
			return request, true
		}
	}

	utils.ForbiddenResponse(c)
	return nil, false
}

func (h *SOSHandler) requestIDParam(c *gin.Context) (primitive.ObjectID, bool) {
	requestID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid request ID")
		return primitive.NilObjectID, false
	}
	return requestID, true
}

func (h *SOSHandler) respondError(c *gin.Context, err error) {
	status := services.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithContext(c.Request.Context()).WithError(err).Error("SOS request failed")
	}
	utils.ErrorResponse(c, status, services.ErrorCode(err), services.ErrorMessage(err))
}
