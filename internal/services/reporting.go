package services

import (
	"context"
	"fmt"
	"time"

	"medisos/internal/models"
	"medisos/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	dashboardListLimit = 10
	dashboardScanLimit = 500
	activityScanLimit  = 1000
	activityRecentLogs = 10

	MaxActivityWindow = 7 * 24 * time.Hour
)

// Dashboard builds the overview for the last stats window. Admins see
// global statistics; a hospital sees only requests assigned to its facility.
func (s *dispatchService) Dashboard(ctx context.Context, identityID primitive.ObjectID, role models.Role) (*models.SOSDashboard, error) {
	end := s.now()
	start := end.Add(-utils.DefaultStatsWindow)

	dashboard := &models.SOSDashboard{
		Role:      role,
		StartDate: start,
		EndDate:   end,
	}

	switch role {
	case models.RoleAdmin:
		stats, err := s.sosRepo.GetStatistics(ctx, &start, &end)
		if err != nil {
			return nil, err
		}
		pending, err := s.sosRepo.List(ctx, &models.SOSFilter{
			Status: models.SOSStatusPending,
			Limit:  dashboardListLimit,
		})
		if err != nil {
			return nil, err
		}
		dashboard.Statistics = stats
		dashboard.PendingRequests = pending

	case models.RoleHospital:
		facility, err := s.FacilityForIdentity(ctx, identityID)
		if err != nil {
			return nil, err
		}

		recent, err := s.sosRepo.List(ctx, &models.SOSFilter{
			FacilityID: &facility.ID,
			StartDate:  &start,
			EndDate:    &end,
			Limit:      dashboardScanLimit,
		})
		if err != nil {
			return nil, err
		}
		pending, err := s.sosRepo.List(ctx, &models.SOSFilter{
			FacilityID: &facility.ID,
			Status:     models.SOSStatusPending,
			Limit:      dashboardListLimit,
		})
		if err != nil {
			return nil, err
		}

		counts := models.NewStatusCounts()
		for _, request := range recent {
			counts[request.Status]++
		}
		if len(recent) > dashboardListLimit {
			recent = recent[:dashboardListLimit]
		}

		dashboard.FacilityID = &facility.ID
		dashboard.FacilityName = facility.Name
		dashboard.StatusCounts = counts
		dashboard.PendingRequests = pending
		dashboard.RecentRequests = recent

	default:
		return nil, fmt.Errorf("%w: dashboard is for admins and hospitals", ErrRoleNotAllowed)
	}

	return dashboard, nil
}

func (s *dispatchService) ListAuditLogs(ctx context.Context, filter *models.AuditFilter) ([]*models.AuditLog, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidStatus, filter.Status)
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, fmt.Errorf("%w: end_date is before start_date", ErrInvalidWindow)
	}
	return s.auditRepo.List(ctx, filter)
}

// RecentActivity summarizes the caller's own audit entries. Hospital
// decisions are recorded against the facility, so a hospital identity is
// resolved to its facility first.
func (s *dispatchService) RecentActivity(ctx context.Context, identityID primitive.ObjectID, role models.Role, window time.Duration) (*models.RecentActivity, error) {
	if window <= 0 || window > MaxActivityWindow {
		return nil, fmt.Errorf("%w: window must be positive and at most %s", ErrInvalidWindow, MaxActivityWindow)
	}

	actorID := identityID
	if role == models.RoleHospital {
		facility, err := s.FacilityForIdentity(ctx, identityID)
		if err != nil {
			return nil, err
		}
		actorID = facility.ID
	}

	end := s.now()
	start := end.Add(-window)
	entries, err := s.auditRepo.List(ctx, &models.AuditFilter{
		ActorID:   &actorID,
		StartDate: &start,
		EndDate:   &end,
		Limit:     activityScanLimit,
	})
	if err != nil {
		return nil, err
	}

	return models.SummarizeActivity(entries, start, end, activityRecentLogs), nil
}
