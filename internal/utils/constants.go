package utils

import "time"

// Application Constants
const (
	AppName = "MediSOS"

	// Pagination
	DefaultPageSize = 20
	MaxPageSize     = 200
	MinPageSize     = 1

	// Authentication
	JWTAccessTokenTTL = 24 * time.Hour

	// Dispatch defaults
	DefaultAverageSpeedKMH = 40.0
	DefaultStatsWindow     = 30 * 24 * time.Hour
)

// HTTP Status Messages
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Error Messages
const (
	ErrInternalServer   = "internal server error"
	ErrUnauthorized     = "unauthorized"
	ErrForbidden        = "forbidden"
	ErrValidationFailed = "validation failed"
)

// Cache Keys
const (
	CacheLocationPrefix = "location:"
	CacheFacilityPrefix = "facility:"
	CacheFacilitiesKey  = "facilities:approved"
	CacheSOSPrefix      = "sos:"
)

// Geographic Constants
const (
	EarthRadiusKM = 6371.0
)
