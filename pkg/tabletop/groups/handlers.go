package groups

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/mikepea/tabletop/pkg/tabletop/auth"
	"github.com/mikepea/tabletop/pkg/tabletop/models"
)

// SessionHeader carries the event stream session that sent an intent, so
// that session is not sent its own change back.
const SessionHeader = "X-Session-ID"

// Handler handles group intents
type Handler struct {
	service *Service
}

// NewHandler creates a new groups handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// CreateGroupRequest represents a new group
type CreateGroupRequest struct {
	UUID          string   `json:"uuid" binding:"required"`
	CharacterSet  []string `json:"character_set"`
	CreationOrder string   `json:"creation_order" binding:"required"`
}

// UpdateGroupRequest represents a group update. Omitted fields are unchanged.
// The uuid must repeat the path id, since the body is what other sessions receive.
type UpdateGroupRequest struct {
	UUID          string    `json:"uuid" binding:"required"`
	CharacterSet  *[]string `json:"character_set"`
	CreationOrder *string   `json:"creation_order"`
}

// JoinGroupRequest moves shapes into a group
type JoinGroupRequest struct {
	GroupID string   `json:"group_id" binding:"required"`
	Members []Member `json:"members" binding:"required,dive"`
}

// bindIntent binds the JSON body into obj and returns the origin carrying the raw body
func bindIntent(c *gin.Context, obj interface{}) (Origin, bool) {
	if err := c.ShouldBindBodyWith(obj, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return Origin{}, false
	}

	raw, _ := c.Get(gin.BodyBytesKey)
	body, _ := raw.([]byte)
	return origin(c, body), true
}

func origin(c *gin.Context, payload []byte) Origin {
	roomID, _ := auth.GetRoomID(c)
	userID, _ := auth.GetUserID(c)
	return Origin{
		RoomID:    roomID,
		UserID:    userID,
		SessionID: c.GetHeader(SessionHeader),
		Payload:   json.RawMessage(payload),
	}
}

func reply(c *gin.Context, result Result, err error) {
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to apply group change"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Info returns a group, or an empty object when it does not exist
// @Summary Get group
// @Tags groups
// @Produce json
// @Param room path int true "Room ID"
// @Param id path string true "Group ID"
// @Success 200 {object} models.Group
// @Security BearerAuth
// @Router /rooms/{room}/groups/{id} [get]
func (h *Handler) Info(c *gin.Context) {
	roomID, _ := auth.GetRoomID(c)
	group, err := h.service.Info(c.Request.Context(), roomID, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch group"})
		return
	}
	if group == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, group)
}

// Create creates a group
// @Summary Create group
// @Tags groups
// @Accept json
// @Produce json
// @Param room path int true "Room ID"
// @Param request body CreateGroupRequest true "Group"
// @Success 200 {object} Result
// @Security BearerAuth
// @Router /rooms/{room}/groups [post]
func (h *Handler) Create(c *gin.Context) {
	var req CreateGroupRequest
	o, ok := bindIntent(c, &req)
	if !ok {
		return
	}

	group := &models.Group{
		ID:            req.UUID,
		CharacterSet:  req.CharacterSet,
		CreationOrder: req.CreationOrder,
	}
	result, err := h.service.Create(c.Request.Context(), o, group)
	reply(c, result, err)
}

// Update changes a group
// @Summary Update group
// @Tags groups
// @Accept json
// @Produce json
// @Param room path int true "Room ID"
// @Param id path string true "Group ID"
// @Param request body UpdateGroupRequest true "Group fields"
// @Success 200 {object} Result
// @Security BearerAuth
// @Router /rooms/{room}/groups/{id} [put]
func (h *Handler) Update(c *gin.Context) {
	id := c.Param("id")

	var req UpdateGroupRequest
	o, ok := bindIntent(c, &req)
	if !ok {
		return
	}
	if req.UUID != id {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Group ID does not match the path"})
		return
	}

	patch := Patch{CharacterSet: req.CharacterSet, CreationOrder: req.CreationOrder}
	result, err := h.service.Update(c.Request.Context(), o, id, patch)
	reply(c, result, err)
}

// UpdateBadges changes the badges of group members
// @Summary Update member badges
// @Tags groups
// @Accept json
// @Produce json
// @Param room path int true "Room ID"
// @Param request body []Member true "Badges"
// @Success 200 {object} Result
// @Security BearerAuth
// @Router /rooms/{room}/groups/badges [post]
func (h *Handler) UpdateBadges(c *gin.Context) {
	var members []Member
	o, ok := bindIntent(c, &members)
	if !ok {
		return
	}

	result, err := h.service.UpdateBadges(c.Request.Context(), o, members)
	reply(c, result, err)
}

// Join moves shapes into a group
// @Summary Join group
// @Tags groups
// @Accept json
// @Produce json
// @Param room path int true "Room ID"
// @Param request body JoinGroupRequest true "Group and members"
// @Success 200 {object} Result
// @Security BearerAuth
// @Router /rooms/{room}/groups/join [post]
func (h *Handler) Join(c *gin.Context) {
	var req JoinGroupRequest
	o, ok := bindIntent(c, &req)
	if !ok {
		return
	}

	result, err := h.service.Join(c.Request.Context(), o, req.GroupID, req.Members)
	reply(c, result, err)
}

// Leave takes shapes out of their groups
// @Summary Leave group
// @Tags groups
// @Accept json
// @Produce json
// @Param room path int true "Room ID"
// @Param request body []LeaveEntry true "Shapes and the groups they leave"
// @Success 200 {object} Result
// @Security BearerAuth
// @Router /rooms/{room}/groups/leave [post]
func (h *Handler) Leave(c *gin.Context) {
	var entries []LeaveEntry
	o, ok := bindIntent(c, &entries)
	if !ok {
		return
	}

	result, err := h.service.Leave(c.Request.Context(), o, entries)
	reply(c, result, err)
}

// Remove deletes a group. Other sessions receive the group id as a JSON string.
// @Summary Remove group
// @Tags groups
// @Produce json
// @Param room path int true "Room ID"
// @Param id path string true "Group ID"
// @Success 200 {object} Result
// @Security BearerAuth
// @Router /rooms/{room}/groups/{id} [delete]
func (h *Handler) Remove(c *gin.Context) {
	id := c.Param("id")
	payload, _ := json.Marshal(id)

	result, err := h.service.Remove(c.Request.Context(), origin(c, payload), id)
	reply(c, result, err)
}

// RegisterRoutes registers group routes on a room-scoped router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/groups/:id", h.Info)
	rg.POST("/groups", h.Create)
	rg.PUT("/groups/:id", h.Update)
	rg.DELETE("/groups/:id", h.Remove)
	rg.POST("/groups/badges", h.UpdateBadges)
	rg.POST("/groups/join", h.Join)
	rg.POST("/groups/leave", h.Leave)
}
