package rooms

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/tabletop/pkg/tabletop/auth"
	"github.com/mikepea/tabletop/pkg/tabletop/models"
	"gorm.io/gorm"
)

// DefaultLayers are created on the ground floor of every new location, bottom first
var DefaultLayers = []models.Layer{
	{Name: "map", Type: "layer", PlayerVisible: true, PlayerEditable: false, Selectable: true},
	{Name: "grid", Type: "grid", PlayerVisible: true, PlayerEditable: false, Selectable: false},
	{Name: "tokens", Type: "layer", PlayerVisible: true, PlayerEditable: true, Selectable: true},
	{Name: "dm", Type: "layer", PlayerVisible: false, PlayerEditable: false, Selectable: true},
	{Name: "draw", Type: "layer", PlayerVisible: true, PlayerEditable: true, Selectable: true},
}

// Handler handles room-related requests
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new rooms handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// CreateRoomRequest represents the request to create a room
type CreateRoomRequest struct {
	Name     string `json:"name" binding:"required,min=1,max=100"`
	Location string `json:"location" binding:"omitempty,max=100"`
}

// UpdateRoomRequest represents the request to update a room
type UpdateRoomRequest struct {
	IsLocked *bool `json:"is_locked" binding:"required"`
}

// AddPlayerRequest represents the request to invite a player
type AddPlayerRequest struct {
	Name string `json:"name" binding:"required"`
}

// RoomResponse represents a room in API responses
type RoomResponse struct {
	ID               uint        `json:"id"`
	Name             string      `json:"name"`
	Creator          string      `json:"creator"`
	IsLocked         bool        `json:"is_locked"`
	Role             models.Role `json:"role"`
	ActiveLocationID *uint       `json:"active_location_id,omitempty"`
}

// PlayerResponse represents a room member in API responses
type PlayerResponse struct {
	UserID uint        `json:"user_id"`
	Name   string      `json:"name"`
	Role   models.Role `json:"role"`
}

var errRoomExists = errors.New("room already exists")

// Create creates a room with a starting location. The creator becomes its DM.
// @Summary Create room
// @Tags rooms
// @Accept json
// @Produce json
// @Param request body CreateRoomRequest true "Room details"
// @Success 201 {object} RoomResponse
// @Failure 409 {object} map[string]string "Room name already used"
// @Security BearerAuth
// @Router /rooms [post]
func (h *Handler) Create(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	userName, _ := auth.GetName(c)

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Location == "" {
		req.Location = "start"
	}

	room := models.Room{Name: req.Name, CreatorID: userID}
	var membership models.PlayerRoom

	err := h.db.Transaction(func(tx *gorm.DB) error {
		var existing models.Room
		if err := tx.Where("name = ? AND creator_id = ?", req.Name, userID).First(&existing).Error; err == nil {
			return errRoomExists
		}

		if err := tx.Create(&room).Error; err != nil {
			return err
		}

		location, err := createLocation(tx, room.ID, req.Location, 0)
		if err != nil {
			return err
		}

		membership = models.PlayerRoom{
			PlayerID:         userID,
			RoomID:           room.ID,
			Role:             models.RoleDM,
			ActiveLocationID: &location.ID,
		}
		return tx.Create(&membership).Error
	})

	if errors.Is(err, errRoomExists) {
		c.JSON(http.StatusConflict, gin.H{"error": "You already have a room with this name"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	c.JSON(http.StatusCreated, RoomResponse{
		ID:               room.ID,
		Name:             room.Name,
		Creator:          userName,
		Role:             models.RoleDM,
		ActiveLocationID: membership.ActiveLocationID,
	})
}

// createLocation adds a location with a ground floor and the default layers
func createLocation(tx *gorm.DB, roomID uint, name string, index int) (*models.Location, error) {
	location := models.Location{RoomID: roomID, Name: name, Index: index}
	if err := tx.Create(&location).Error; err != nil {
		return nil, err
	}

	ground := "ground"
	floor := models.Floor{LocationID: location.ID, Name: &ground}
	if err := tx.Create(&floor).Error; err != nil {
		return nil, err
	}

	for i, layer := range DefaultLayers {
		layer.FloorID = floor.ID
		layer.Index = i
		if err := tx.Create(&layer).Error; err != nil {
			return nil, err
		}
	}
	return &location, nil
}

// List returns the rooms the current user plays in
// @Summary List rooms
// @Tags rooms
// @Produce json
// @Success 200 {array} RoomResponse
// @Security BearerAuth
// @Router /rooms [get]
func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var memberships []models.PlayerRoom
	if err := h.db.Preload("Room.Creator").Where("player_id = ?", userID).Order("room_id").Find(&memberships).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch rooms"})
		return
	}

	rooms := make([]RoomResponse, len(memberships))
	for i, m := range memberships {
		rooms[i] = RoomResponse{
			ID:               m.Room.ID,
			Name:             m.Room.Name,
			Creator:          m.Room.Creator.Name,
			IsLocked:         m.Room.IsLocked,
			Role:             m.Role,
			ActiveLocationID: m.ActiveLocationID,
		}
	}

	c.JSON(http.StatusOK, rooms)
}

// Update locks or unlocks a room
// @Summary Update room
// @Tags rooms
// @Accept json
// @Param room path int true "Room ID"
// @Param request body UpdateRoomRequest true "Room settings"
// @Success 204
// @Security BearerAuth
// @Router /rooms/{room} [patch]
func (h *Handler) Update(c *gin.Context) {
	roomID, _ := auth.GetRoomID(c)

	var req UpdateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.Model(&models.Room{}).Where("id = ?", roomID).Update("is_locked", *req.IsLocked).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update room"})
		return
	}

	c.Status(http.StatusNoContent)
}

// ListPlayers returns everyone in the current room
// @Summary List players
// @Tags rooms
// @Produce json
// @Param room path int true "Room ID"
// @Success 200 {array} PlayerResponse
// @Security BearerAuth
// @Router /rooms/{room}/players [get]
func (h *Handler) ListPlayers(c *gin.Context) {
	roomID, _ := auth.GetRoomID(c)

	var memberships []models.PlayerRoom
	if err := h.db.Preload("Player").Where("room_id = ?", roomID).Order("role DESC, player_id").Find(&memberships).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch players"})
		return
	}

	players := make([]PlayerResponse, len(memberships))
	for i, m := range memberships {
		players[i] = PlayerResponse{UserID: m.PlayerID, Name: m.Player.Name, Role: m.Role}
	}

	c.JSON(http.StatusOK, players)
}

// AddPlayer invites an existing user into the current room.
// New players start on the room's first location.
// @Summary Add player
// @Tags rooms
// @Accept json
// @Produce json
// @Param room path int true "Room ID"
// @Param request body AddPlayerRequest true "Player to add"
// @Success 201 {object} PlayerResponse
// @Failure 404 {object} map[string]string "User not found"
// @Failure 409 {object} map[string]string "Already in room"
// @Security BearerAuth
// @Router /rooms/{room}/players [post]
func (h *Handler) AddPlayer(c *gin.Context) {
	roomID, _ := auth.GetRoomID(c)

	var req AddPlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	if err := h.db.Where("name = ?", req.Name).First(&user).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	var existing models.PlayerRoom
	if err := h.db.Where("player_id = ? AND room_id = ?", user.ID, roomID).First(&existing).Error; err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "User is already in this room"})
		return
	}

	membership := models.PlayerRoom{PlayerID: user.ID, RoomID: roomID, Role: models.RolePlayer}

	var first models.Location
	if err := h.db.Where("room_id = ?", roomID).Order(`"index"`).First(&first).Error; err == nil {
		membership.ActiveLocationID = &first.ID
	}

	if err := h.db.Create(&membership).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add player"})
		return
	}

	c.JSON(http.StatusCreated, PlayerResponse{UserID: user.ID, Name: user.Name, Role: membership.Role})
}

// RegisterRoutes registers the room collection routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.Create)
	rg.GET("", h.List)
}

// RegisterRoomRoutes registers routes scoped to a single room. rg must run
// auth.RoomMiddleware.
func (h *Handler) RegisterRoomRoutes(rg *gin.RouterGroup) {
	rg.GET("/players", h.ListPlayers)
	rg.POST("/players", auth.RequireDM(), h.AddPlayer)
	rg.PATCH("", auth.RequireDM(), h.Update)
}
