package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// CronParser accepts standard 5-field expressions and descriptors such as
// @every 1m. The expiry scheduler parses with it too.
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

const (
	StoreMemory  = "memory"
	StoreMongoDB = "mongodb"
	StoreRedis   = "redis"
)

type DispatchConfig struct {
	DefaultLatitude     float64       `yaml:"default_latitude"`
	DefaultLongitude    float64       `yaml:"default_longitude"`
	StrictLocation      bool          `yaml:"strict_location"`
	SearchRadiusKM      float64       `yaml:"search_radius_km"`
	AverageSpeedKMH     float64       `yaml:"average_speed_kmh"`
	RequestTTL          time.Duration `yaml:"request_ttl"`
	AutoExpireEnabled   bool          `yaml:"auto_expire_enabled"`
	ExpirySweepSchedule string        `yaml:"expiry_sweep_schedule"`
	PushTimeout         time.Duration `yaml:"push_timeout"`
	OperationTimeout    time.Duration `yaml:"operation_timeout"`
	LocationTTL         time.Duration `yaml:"location_ttl"`
	Storage             string        `yaml:"storage"`
	LocationStore       string        `yaml:"location_store"`
}

func loadDispatchConfig() *DispatchConfig {
	return &DispatchConfig{
		DefaultLatitude:     getEnvAsFloat64("DISPATCH_DEFAULT_LATITUDE", 12.9716),
		DefaultLongitude:    getEnvAsFloat64("DISPATCH_DEFAULT_LONGITUDE", 77.5946),
		StrictLocation:      getEnvAsBool("DISPATCH_STRICT_LOCATION", false),
		SearchRadiusKM:      getEnvAsFloat64("DISPATCH_SEARCH_RADIUS_KM", 0),
		AverageSpeedKMH:     getEnvAsFloat64("DISPATCH_AVERAGE_SPEED_KMH", 40),
		RequestTTL:          getEnvAsDuration("DISPATCH_REQUEST_TTL", 30*time.Minute),
		AutoExpireEnabled:   getEnvAsBool("DISPATCH_AUTO_EXPIRE_ENABLED", false),
		ExpirySweepSchedule: getEnv("DISPATCH_EXPIRY_SWEEP_SCHEDULE", "*/1 * * * *"),
		PushTimeout:         getEnvAsDuration("DISPATCH_PUSH_TIMEOUT", 5*time.Second),
		OperationTimeout:    getEnvAsDuration("DISPATCH_OPERATION_TIMEOUT", 15*time.Second),
		LocationTTL:         getEnvAsDuration("DISPATCH_LOCATION_TTL", 24*time.Hour),
		Storage:             getEnv("DISPATCH_STORAGE", StoreMongoDB),
		LocationStore:       getEnv("DISPATCH_LOCATION_STORE", StoreMemory),
	}
}

func (d *DispatchConfig) Validate() error {
	if d.DefaultLatitude < -90 || d.DefaultLatitude > 90 || d.DefaultLongitude < -180 || d.DefaultLongitude > 180 {
		return fmt.Errorf("invalid default coordinate %f,%f", d.DefaultLatitude, d.DefaultLongitude)
	}
	if d.SearchRadiusKM < 0 {
		return fmt.Errorf("DISPATCH_SEARCH_RADIUS_KM must not be negative")
	}
	if d.AverageSpeedKMH <= 0 {
		return fmt.Errorf("DISPATCH_AVERAGE_SPEED_KMH must be positive")
	}
	if d.RequestTTL < 0 {
		return fmt.Errorf("DISPATCH_REQUEST_TTL must not be negative")
	}
	if d.AutoExpireEnabled {
		if d.RequestTTL == 0 {
			return fmt.Errorf("auto expiry requires a positive DISPATCH_REQUEST_TTL")
		}
		if _, err := CronParser.Parse(d.ExpirySweepSchedule); err != nil {
			return fmt.Errorf("invalid DISPATCH_EXPIRY_SWEEP_SCHEDULE %q: %w", d.ExpirySweepSchedule, err)
		}
	}
	if d.OperationTimeout <= 0 {
		return fmt.Errorf("DISPATCH_OPERATION_TIMEOUT must be positive")
	}
	if d.LocationTTL < 0 {
		return fmt.Errorf("DISPATCH_LOCATION_TTL must not be negative")
	}
	switch d.Storage {
	case StoreMemory, StoreMongoDB:
	default:
		return fmt.Errorf("unknown DISPATCH_STORAGE %q", d.Storage)
	}
	switch d.LocationStore {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("unknown DISPATCH_LOCATION_STORE %q", d.LocationStore)
	}
	return nil
}

// RadiusKM returns the configured search radius, or nil when unlimited.
func (d *DispatchConfig) RadiusKM() *float64 {
	if d.SearchRadiusKM <= 0 {
		return nil
	}
	radius := d.SearchRadiusKM
	return &radius
}
