package middleware

import (
	"net/http"
	"strings"

	"medisos/internal/models"
	"medisos/internal/utils"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	ContextUserID   = "user_id"
	ContextUserType = "user_type"
)

// AuthRequired validates a bearer token and sets user context.
func AuthRequired(secret string) gin.HandlerFunc {
	return authenticate(secret, false)
}

// WebSocketAuth also accepts the token as a "token" query parameter, since
// browsers cannot set headers on a websocket handshake.
func WebSocketAuth(secret string) gin.HandlerFunc {
	return authenticate(secret, true)
}

func authenticate(secret string, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok && allowQuery {
			tokenString = c.Query("token")
			ok = tokenString != ""
		}
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		claims, err := utils.ValidateToken(tokenString, secret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		if !models.Role(claims.UserType).IsValid() {
			c.JSON(http.StatusForbidden, gin.H{"error": "Unknown user type"})
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserType, claims.UserType)

		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader || tokenString == "" {
		return "", false
	}
	return tokenString, true
}

// RequireRoles admits only the listed user types.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := GetUserRole(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User type not found"})
			c.Abort()
			return
		}

		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied for " + string(role)})
		c.Abort()
	}
}

func AdminRequired() gin.HandlerFunc {
	return RequireRoles(models.RoleAdmin)
}

func HospitalRequired() gin.HandlerFunc {
	return RequireRoles(models.RoleHospital)
}

func PatientRequired() gin.HandlerFunc {
	return RequireRoles(models.RolePatient)
}

func GetUserID(c *gin.Context) (primitive.ObjectID, bool) {
	value, exists := c.Get(ContextUserID)
	if !exists {
		return primitive.NilObjectID, false
	}
	userID, ok := value.(primitive.ObjectID)
	return userID, ok
}

func GetUserRole(c *gin.Context) (models.Role, bool) {
	value, exists := c.Get(ContextUserType)
	if !exists {
		return "", false
	}
	role, ok := value.(string)
	return models.Role(role), ok
}
