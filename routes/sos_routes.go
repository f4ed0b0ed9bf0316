package routes

import (
	handlers "medisos/internal/handlers/shared"
	"medisos/internal/middleware"
	"medisos/internal/models"

	"github.com/gin-gonic/gin"
)

// SetupSOSRoutes registers the REST SOS API under r.
func SetupSOSRoutes(r *gin.RouterGroup, sosHandler *handlers.SOSHandler, jwtSecret string) {
	sos := r.Group("/sos")
	sos.Use(middleware.AuthRequired(jwtSecret))
	{
		// Hospital decisions
		sos.POST("/accept", middleware.HospitalRequired(), sosHandler.AcceptSOS)
		sos.POST("/reject", middleware.HospitalRequired(), sosHandler.RejectSOS)
		sos.GET("/my-facility", middleware.HospitalRequired(), sosHandler.ListMyFacility)
		sos.GET("/my-facility/pending", middleware.HospitalRequired(), sosHandler.ListMyFacilityPending)

		// Patient history
		sos.GET("/mine", middleware.PatientRequired(), sosHandler.ListMine)

		// Reporting
		sos.GET("/dashboard", middleware.RequireRoles(models.RoleAdmin, models.RoleHospital), sosHandler.Dashboard)
		sos.GET("/recent-activity", sosHandler.RecentActivity)

		// Single request, visible to admins, the owner and the assigned hospital
		sos.GET("/:id", sosHandler.GetSOS)
		sos.GET("/:id/events", sosHandler.GetSOSEvents)
	}

	admin := sos.Group("")
	admin.Use(middleware.AdminRequired())
	{
		admin.POST("/:id/expire", sosHandler.ExpireSOS)
		admin.GET("/pending", sosHandler.ListPending)
		admin.GET("/by-status/:status", sosHandler.ListByStatus)
		admin.GET("/by-facility/:id", sosHandler.ListByFacility)
		admin.GET("/statistics", sosHandler.GetStatistics)
		admin.GET("/audit", sosHandler.ListAuditLogs)
		admin.GET("/audit/hospital-responses", sosHandler.ListHospitalResponses)
	}
}
