package services

import (
	"math"

	"medisos/internal/models"
	"medisos/internal/utils"
)

// ResolveNearestFacility returns the candidate closest to the origin, or nil
// when there is none. Candidates beyond radiusKM are skipped when a radius is
// given. On an exact tie the earlier candidate wins.
func ResolveNearestFacility(lat, lng float64, candidates []*models.Facility, radiusKM *float64) *models.FacilityMatch {
	var best *models.FacilityMatch

	for _, facility := range candidates {
		if facility == nil || !facility.HasCoordinates() {
			continue
		}

		distance := utils.CalculateDistance(lat, lng, facility.Latitude(), facility.Longitude())
		if math.IsNaN(distance) || math.IsInf(distance, 0) {
			continue
		}
		if radiusKM != nil && distance > *radiusKM {
			continue
		}
		if best == nil || distance < best.DistanceKM {
			best = &models.FacilityMatch{Facility: facility, DistanceKM: distance}
		}
	}

	return best
}
