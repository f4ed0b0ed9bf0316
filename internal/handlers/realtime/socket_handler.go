package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"medisos/internal/models"
	"medisos/internal/services"
	"medisos/internal/utils"
	"medisos/pkg/logger"
	"medisos/pkg/websocket"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	TypeSOSRequest       = "sos_request"
	TypeHospitalResponse = "hospital_response"
	TypeUpdateLocation   = "update_location"
	TypePing             = "ping"
)

var errMalformed = errors.New("malformed payload")

type sosRequestData struct {
	Latitude         *float64                `json:"latitude"`
	Longitude        *float64                `json:"longitude"`
	EmergencyDetails models.EmergencyDetails `json:"emergency_details"`
}

type hospitalResponseData struct {
	RequestID    string `json:"request_id" validate:"required,objectid"`
	FacilityID   string `json:"facility_id" validate:"omitempty,objectid"`
	FacilityName string `json:"facility_name" validate:"max=200"`
	Response     string `json:"response"`
	Note         string `json:"note" validate:"max=1000"`
	Reason       string `json:"reason" validate:"max=1000"`
}

type updateLocationData struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
}

// SocketHandler connects live websocket clients to the dispatcher: it keeps
// the connection registry in step with the hub and routes inbound frames.
type SocketHandler struct {
	dispatch  services.DispatchService
	registry  *services.ConnectionRegistry
	opTimeout time.Duration
	logger    *logger.Logger
}

func NewSocketHandler(dispatch services.DispatchService, registry *services.ConnectionRegistry, opTimeout time.Duration, log *logger.Logger) *SocketHandler {
	if opTimeout <= 0 {
		opTimeout = 10 * time.Second
	}
	return &SocketHandler{
		dispatch:  dispatch,
		registry:  registry,
		opTimeout: opTimeout,
		logger:    log,
	}
}

func (h *SocketHandler) OnConnect(client *websocket.Client) {
	evicted := h.registry.Connect(client.UserID, models.Role(client.Role), client)
	if evicted != nil {
		h.logger.WithFields(map[string]interface{}{
			"identity_id": client.UserID.Hex(),
			"evicted":     evicted.Handle.ID(),
		}).Info("Replaced previous connection")
	}
}

func (h *SocketHandler) OnDisconnect(client *websocket.Client) {
	h.registry.Disconnect(client)
}

func (h *SocketHandler) OnMessage(client *websocket.Client, envelope *websocket.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), h.opTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, logger.UserIDKey, client.UserID.Hex())

	switch envelope.Type {
	case TypePing:
		client.Push(services.EventPong, map[string]interface{}{"request_id": envelope.RequestID})
	case TypeSOSRequest:
		h.handleSOSRequest(ctx, client, envelope)
	case TypeHospitalResponse:
		h.handleHospitalResponse(ctx, client, envelope)
	case TypeUpdateLocation:
		h.handleUpdateLocation(ctx, client, envelope)
	default:
		client.Push("error", map[string]string{
			"code":    services.CodeValidation,
			"message": "unknown message type " + envelope.Type,
		})
	}
}

func (h *SocketHandler) handleSOSRequest(ctx context.Context, client *websocket.Client, envelope *websocket.Envelope) {
	if models.Role(client.Role) != models.RolePatient {
		client.Push(services.EventSOSError, errorPayload(services.CodeValidation, "only patients can submit SOS requests"))
		return
	}

	var data sosRequestData
	if err := decode(envelope.Data, &data); err != nil {
		client.Push(services.EventSOSError, errorPayload(services.CodeValidation, err.Error()))
		return
	}

	// Coordinates are only used as a pair.
	if (data.Latitude == nil) != (data.Longitude == nil) {
		data.Latitude, data.Longitude = nil, nil
	}

	_, err := h.dispatch.SubmitSOS(ctx, &services.SubmitSOSInput{
		PatientID:        client.UserID,
		Latitude:         data.Latitude,
		Longitude:        data.Longitude,
		EmergencyDetails: data.EmergencyDetails,
	})
	if err != nil {
		client.Push(services.EventSOSError, services.NewErrorPayload(err, nil))
	}
}

func (h *SocketHandler) handleHospitalResponse(ctx context.Context, client *websocket.Client, envelope *websocket.Envelope) {
	if models.Role(client.Role) != models.RoleHospital {
		client.Push(services.EventSOSDecisionError, errorPayload(services.CodeValidation, "only hospitals can respond to SOS requests"))
		return
	}

	var data hospitalResponseData
	if err := decode(envelope.Data, &data); err != nil {
		client.Push(services.EventSOSDecisionError, errorPayload(services.CodeValidation, errMalformed.Error()))
		return
	}
	if data.RequestID == "" {
		data.RequestID = envelope.RequestID
	}
	if err := utils.ValidateStruct(&data); err != nil {
		client.Push(services.EventSOSDecisionError, validationPayload(err))
		return
	}

	requestID, _ := primitive.ObjectIDFromHex(data.RequestID)
	facilityID, err := h.facilityID(ctx, client, data.FacilityID)
	if err != nil {
		client.Push(services.EventSOSDecisionError, services.NewErrorPayload(err, &requestID))
		return
	}

	decision, err := models.ParseSOSDecision(data.Response)
	if err != nil {
		client.Push(services.EventSOSDecisionError, services.NewErrorPayload(err, &requestID))
		return
	}

	request, err := h.dispatch.SubmitDecision(ctx, &services.DecisionInput{
		RequestID:       requestID,
		ActorIdentityID: client.UserID,
		FacilityID:      facilityID,
		FacilityName:    data.FacilityName,
		Decision:        decision,
		Note:            data.Note,
		Reason:          data.Reason,
	})
	if err != nil {
		client.Push(services.EventSOSDecisionError, services.NewErrorPayload(err, &requestID))
		return
	}

	client.Push(services.EventSOSDecisionRecorded, map[string]interface{}{
		"request_id": request.ID,
		"status":     request.Status,
		"decided_at": request.DecidedAt,
	})
}

// facilityID falls back to the facility owned by the connected hospital when
// the frame does not name one.
func (h *SocketHandler) facilityID(ctx context.Context, client *websocket.Client, raw string) (primitive.ObjectID, error) {
	if raw != "" {
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			return primitive.NilObjectID, models.ErrSOSInvalidDecision
		}
		return id, nil
	}

	facility, err := h.dispatch.FacilityForIdentity(ctx, client.UserID)
	if err != nil {
		return primitive.NilObjectID, err
	}
	return facility.ID, nil
}

func (h *SocketHandler) handleUpdateLocation(ctx context.Context, client *websocket.Client, envelope *websocket.Envelope) {
	if models.Role(client.Role) != models.RolePatient {
		client.Push(services.EventLocationError, errorPayload(services.CodeValidation, "only patients can update location"))
		return
	}

	var data updateLocationData
	if err := decode(envelope.Data, &data); err != nil {
		client.Push(services.EventLocationError, services.NewErrorPayload(services.ErrInvalidCoordinates, nil))
		return
	}
	if err := utils.ValidateStruct(&data); err != nil {
		payload := services.NewErrorPayload(services.ErrInvalidCoordinates, nil)
		payload.Message = flatten(utils.ValidationErrors(err))
		client.Push(services.EventLocationError, payload)
		return
	}

	sample, err := h.dispatch.UpdateLocation(ctx, client.UserID, *data.Latitude, *data.Longitude)
	if err != nil {
		client.Push(services.EventLocationError, services.NewErrorPayload(err, nil))
		return
	}

	client.Push(services.EventLocationUpdated, sample)
}

func decode(raw json.RawMessage, dest interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return errMalformed
	}
	return nil
}

func errorPayload(code, message string) services.ErrorPayload {
	return services.ErrorPayload{Code: code, Message: message}
}

func validationPayload(err error) services.ErrorPayload {
	return errorPayload(services.CodeValidation, flatten(utils.ValidationErrors(err)))
}

// flatten renders field errors in a stable order.
func flatten(fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+fields[name])
	}
	return strings.Join(parts, "; ")
}
