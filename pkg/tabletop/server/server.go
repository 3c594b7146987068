// Package server assembles the HTTP routes of the tabletop backend
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/tabletop/pkg/tabletop/auth"
	"github.com/mikepea/tabletop/pkg/tabletop/fanout"
	"github.com/mikepea/tabletop/pkg/tabletop/groups"
	"github.com/mikepea/tabletop/pkg/tabletop/logging"
	"github.com/mikepea/tabletop/pkg/tabletop/metrics"
	"github.com/mikepea/tabletop/pkg/tabletop/models"
	"github.com/mikepea/tabletop/pkg/tabletop/rooms"
	"github.com/mikepea/tabletop/pkg/tabletop/sessions"
	"gorm.io/gorm"
)

// @title Tabletop API
// @version 1.0
// @description Backend for a collaborative virtual tabletop.

// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT token. Format: "Bearer {token}"

// Server is the HTTP surface together with the sessions it streams to
type Server struct {
	Engine   *gin.Engine
	Sessions *sessions.Directory
}

// New builds the router for an opened save file. meta is the save file's
// metadata as returned by startup.Open.
func New(db *gorm.DB, meta *models.StoreMetadata, sessionBuffer int) *Server {
	dir := sessions.NewDirectory(sessionBuffer)

	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware(), metrics.Middleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"save_version": meta.SaveVersion,
			"sessions":     dir.Count(),
		})
	})
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api")
	{
		// Auth routes (public)
		authHandler := auth.NewHandler(db)
		authHandler.RegisterRoutes(api.Group("/auth"))

		roomsHandler := rooms.NewHandler(db)
		roomsGroup := api.Group("/rooms", auth.AuthMiddleware())
		roomsHandler.RegisterRoutes(roomsGroup)

		// Everything below needs a seat in the room
		room := roomsGroup.Group("/:room", auth.RoomMiddleware(db))
		roomsHandler.RegisterRoomRoutes(room)

		groupsHandler := groups.NewHandler(groups.NewService(groups.NewRegistry(db), fanout.New(dir)))
		groupsHandler.RegisterRoutes(room)

		dir.RegisterRoutes(room)
	}

	return &Server{Engine: r, Sessions: dir}
}
