package auth

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/tabletop/pkg/tabletop/models"
	"gorm.io/gorm"
)

const (
	// ContextKeyUserID is the key for user ID in gin context
	ContextKeyUserID = "user_id"
	// ContextKeyName is the key for the user name in gin context
	ContextKeyName = "user_name"
	// ContextKeyRoomID is the key for room ID in gin context
	ContextKeyRoomID = "room_id"
	// ContextKeyRole is the key for the caller's role in the current room
	ContextKeyRole = "room_role"
)

// AuthMiddleware validates JWT tokens and sets user info in context.
// The token is read from the Authorization header, or from the token query
// parameter for event streams opened by browsers.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		claims, err := ValidateToken(tokenString)
		if err != nil {
			if err == ErrExpiredToken {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Token has expired"})
			} else {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			}
			c.Abort()
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyName, claims.Name)

		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		token := c.Query("token")
		return token, token != ""
	}

	// Expect "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", false
	}
	return parts[1], true
}

// RoomMiddleware resolves the :room path parameter and checks that the user
// plays in that room. Locked rooms only admit their DM.
func RoomMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := GetUserID(c)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}

		parsed, err := strconv.ParseUint(c.Param("room"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room ID"})
			c.Abort()
			return
		}
		roomID := uint(parsed)

		var membership models.PlayerRoom
		if err := db.Preload("Room").Where("player_id = ? AND room_id = ?", userID, roomID).First(&membership).Error; err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "Not a player in this room"})
			c.Abort()
			return
		}

		if membership.Room.IsLocked && membership.Role != models.RoleDM {
			c.JSON(http.StatusForbidden, gin.H{"error": "Room is locked"})
			c.Abort()
			return
		}

		c.Set(ContextKeyRoomID, roomID)
		c.Set(ContextKeyRole, membership.Role)

		c.Next()
	}
}

// RequireDM middleware checks if the user is the DM of the current room
func RequireDM() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := GetRole(c)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Room context required"})
			c.Abort()
			return
		}

		if role != models.RoleDM {
			c.JSON(http.StatusForbidden, gin.H{"error": "DM access required"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// GetUserID returns the user ID from the gin context
func GetUserID(c *gin.Context) (uint, bool) {
	userID, exists := c.Get(ContextKeyUserID)
	if !exists {
		return 0, false
	}
	return userID.(uint), true
}

// GetName returns the user name from the gin context
func GetName(c *gin.Context) (string, bool) {
	name, exists := c.Get(ContextKeyName)
	if !exists {
		return "", false
	}
	return name.(string), true
}

// GetRoomID returns the room ID from the gin context
func GetRoomID(c *gin.Context) (uint, bool) {
	roomID, exists := c.Get(ContextKeyRoomID)
	if !exists {
		return 0, false
	}
	return roomID.(uint), true
}

// GetRole returns the caller's role in the current room
func GetRole(c *gin.Context) (models.Role, bool) {
	role, exists := c.Get(ContextKeyRole)
	if !exists {
		return 0, false
	}
	return role.(models.Role), true
}
