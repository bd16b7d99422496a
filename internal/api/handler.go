package api

import (
	"github.com/SherClockHolmes/webpush-go"
	"github.com/patrickmn/go-cache"

	"whosprinting-backend/config"
	"whosprinting-backend/internal/events"
	"whosprinting-backend/internal/occupancy"
	"whosprinting-backend/internal/store"
	"whosprinting-backend/internal/tag"
)

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Config    *config.Config
	Store     store.Store
	Occupancy *occupancy.Service
	Tags      *tag.Service
	Hub       *events.Hub
	WebPush   *webpush.Options
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	cfg       *config.Config
	store     store.Store
	occupancy *occupancy.Service
	tags      *tag.Service
	hub       *events.Hub
	webpush   *webpush.Options
	cache     *cache.Cache
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	ttl := d.Config.Server.CacheTTL()
	return &Handler{
		cfg:       d.Config,
		store:     d.Store,
		occupancy: d.Occupancy,
		tags:      d.Tags,
		hub:       d.Hub,
		webpush:   d.WebPush,
		cache:     cache.New(ttl, 2*ttl),
	}
}
