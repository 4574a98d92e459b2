package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"zenflow-backend/config"
	"zenflow-backend/internal/broadcast"
	"zenflow-backend/internal/model"
	"zenflow-backend/internal/mw"
	"zenflow-backend/internal/store"
)

// StatusReader reports the debounced presence status.
type StatusReader interface {
	CurrentStatus() model.PresenceStatus
}

// Deps are the collaborators shared by the API handlers. Cache is the /logs
// response cache; pass the one the partial-log sink flushes. A private cache
// is created when it is nil.
type Deps struct {
	Store     store.Store
	Tracker   StatusReader
	Hub       *broadcast.Hub
	Cache     *mw.ResponseCache
	WebPush   *webpush.Options
	Server    config.ServerConfig
	WebSocket config.WebSocketConfig
	Location  *time.Location
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	tracker StatusReader
	hub     *broadcast.Hub
	cache   *mw.ResponseCache
	webpush *webpush.Options
	ws      config.WebSocketConfig
	loc     *time.Location
	now     func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	responses := d.Cache
	if responses == nil {
		ttl := d.Server.CacheTTL
		if ttl <= 0 {
			ttl = 2 * time.Second
		}
		responses = mw.NewResponseCache(ttl)
	}
	return &Handler{
		store:   d.Store,
		tracker: d.Tracker,
		hub:     d.Hub,
		cache:   responses,
		webpush: d.WebPush,
		ws:      d.WebSocket,
		loc:     loc,
		now:     time.Now,
	}
}

func (h *Handler) clock() time.Time {
	return h.now().In(h.loc)
}
