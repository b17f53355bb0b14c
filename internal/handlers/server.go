// Package handlers exposes the room engine and spectator service over HTTP. Every endpoint
// answers with {"ok":true,...} or {"error":"<code>"}.
package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sequence/internal/middleware"
	"github.com/jason-s-yu/sequence/internal/room"
	"github.com/jason-s-yu/sequence/internal/spectator"
)

// Server holds what the endpoints need.
type Server struct {
	Rooms      *room.Engine
	Spectators *spectator.Service
	Log        *logrus.Logger
	// InviteBaseURL prefixes the links encoded in invite QR codes.
	InviteBaseURL string
}

// Routes registers every endpoint behind the request logger.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// membership
	mux.HandleFunc("POST /rooms/create", s.createRoom)
	mux.HandleFunc("POST /rooms/join", s.joinRoom)
	mux.HandleFunc("POST /rooms/leave", s.leaveRoom)
	mux.HandleFunc("POST /rooms/clue", s.submitClue)
	mux.HandleFunc("POST /rooms/ready", s.setReady)
	mux.HandleFunc("POST /rooms/heartbeat", s.heartbeat)
	mux.HandleFunc("GET /rooms/get", s.getRoom)

	// commands
	mux.HandleFunc("POST /rooms/start", s.roomCommand(s.Rooms.Start))
	mux.HandleFunc("POST /rooms/deal", s.roomCommand(s.Rooms.Deal))
	mux.HandleFunc("POST /rooms/reset", s.roomCommand(s.Rooms.Reset))
	mux.HandleFunc("POST /rooms/continue-after-fail", s.roomCommand(s.Rooms.ContinueAfterFail))
	mux.HandleFunc("POST /rooms/finalize-reveal", s.roomCommand(s.Rooms.FinalizeReveal))
	mux.HandleFunc("POST /rooms/submit-order", s.submitOrder)
	mux.HandleFunc("POST /rooms/mutate-proposal", s.mutateProposal)
	mux.HandleFunc("POST /rooms/commit-play", s.commitPlay)
	mux.HandleFunc("POST /rooms/update-options", s.updateOptions)

	// spectators
	mux.HandleFunc("POST /spectator/invite/create", s.createInvite)
	mux.HandleFunc("POST /spectator/invite/consume", s.consumeInvite)
	mux.HandleFunc("GET /spectator/invite/qr", s.inviteQR)
	mux.HandleFunc("POST /spectator/session/watch", s.watch)
	mux.HandleFunc("POST /spectator/session/rejoin", s.rejoin)
	mux.HandleFunc("POST /spectator/session/cancel", s.cancelRejoin)
	mux.HandleFunc("POST /spectator/session/approve", s.approve)
	mux.HandleFunc("POST /spectator/session/reject", s.reject)
	mux.HandleFunc("POST /spectator/session/end", s.end)

	return middleware.LogMiddleware(s.Log)(mux)
}
