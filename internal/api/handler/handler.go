// Package handler exposes the HTTP surface: token issuance, the WebSocket
// upgrade, and the REST endpoints for history, notifications and presence.
package handler

import (
	"time"

	"github.com/rs/zerolog"

	"roomrelay/backend/internal/chathub"
	"roomrelay/backend/internal/presence"
	"roomrelay/backend/internal/storage"
)

// Handler holds the dependencies of every HTTP endpoint.
type Handler struct {
	Hub      *chathub.Hub
	Pipeline *chathub.Pipeline
	Store    storage.Storage
	Tracker  *presence.Tracker

	JWTSecret []byte
	JWTTTL    time.Duration

	Log zerolog.Logger
}

// NewHandler wires a Handler.
func NewHandler(
	hub *chathub.Hub,
	pipeline *chathub.Pipeline,
	store storage.Storage,
	tracker *presence.Tracker,
	jwtSecret []byte,
	jwtTTL time.Duration,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		Hub:       hub,
		Pipeline:  pipeline,
		Store:     store,
		Tracker:   tracker,
		JWTSecret: jwtSecret,
		JWTTTL:    jwtTTL,
		Log:       log,
	}
}
