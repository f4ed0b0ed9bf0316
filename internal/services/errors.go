package services

import (
	"errors"
	"net/http"

	"medisos/internal/models"
)

var (
	ErrNoFacilityAvailable = errors.New("no reachable facility available")
	ErrSOSNotFound         = errors.New("sos request not found")
	ErrDeliveryFailed      = errors.New("target connection is not live")
	ErrNoLocationAvailable = errors.New("no location available for patient")
	ErrInvalidCoordinates  = errors.New("invalid coordinates")
	ErrFacilityNotFound    = errors.New("facility not found")
	ErrInvalidStatus       = errors.New("invalid sos status")
	ErrInvalidWindow       = errors.New("invalid time window")
	ErrRoleNotAllowed      = errors.New("role not allowed")
)

const (
	CodeNoFacilityAvailable = "NO_FACILITY_AVAILABLE"
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeFacilityMismatch    = "FACILITY_MISMATCH"
	CodeValidation          = "VALIDATION_ERROR"
	CodeDeliveryFailed      = "DELIVERY_FAILED"
	CodeNoLocationAvailable = "NO_LOCATION_AVAILABLE"
	CodeForbidden           = "FORBIDDEN"
	CodeInternal            = "INTERNAL_ERROR"
)

// ErrorCode maps a dispatch error to the code reported to clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoFacilityAvailable):
		return CodeNoFacilityAvailable
	case errors.Is(err, ErrSOSNotFound), errors.Is(err, ErrFacilityNotFound):
		return CodeNotFound
	case errors.Is(err, models.ErrSOSAlreadyResolved):
		return CodeInvalidTransition
	case errors.Is(err, models.ErrSOSFacilityMismatch):
		return CodeFacilityMismatch
	case errors.Is(err, models.ErrSOSReasonRequired),
		errors.Is(err, models.ErrSOSInvalidDecision),
		errors.Is(err, ErrInvalidCoordinates),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidWindow):
		return CodeValidation
	case errors.Is(err, ErrRoleNotAllowed):
		return CodeForbidden
	case errors.Is(err, ErrDeliveryFailed):
		return CodeDeliveryFailed
	case errors.Is(err, ErrNoLocationAvailable):
		return CodeNoLocationAvailable
	default:
		return CodeInternal
	}
}

func HTTPStatus(err error) int {
	switch ErrorCode(err) {
	case "":
		return http.StatusOK
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidTransition:
		return http.StatusConflict
	case CodeFacilityMismatch, CodeForbidden:
		return http.StatusForbidden
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNoFacilityAvailable, CodeNoLocationAvailable, CodeDeliveryFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorMessage hides internal failure detail from clients.
func ErrorMessage(err error) string {
	if ErrorCode(err) == CodeInternal {
		return "internal error"
	}
	return err.Error()
}
