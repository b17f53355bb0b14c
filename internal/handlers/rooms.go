package handlers

import (
	"context"
	"net/http"

	"github.com/jason-s-yu/sequence/internal/apperr"
	"github.com/jason-s-yu/sequence/internal/models"
	"github.com/jason-s-yu/sequence/internal/proposal"
	"github.com/jason-s-yu/sequence/internal/room"
)

// roomResponse never carries the deal, so numbers only travel through the snapshot view.
type roomResponse struct {
	OK            bool              `json:"ok"`
	RoomID        string            `json:"roomId"`
	Status        models.RoomStatus `json:"status"`
	StatusVersion int64             `json:"statusVersion"`
	HostID        string            `json:"hostId"`
	Replayed      bool              `json:"replayed,omitempty"`
	Result        *models.Result    `json:"result,omitempty"`
	Stats         *models.Stats     `json:"stats,omitempty"`
	Proposal      []string          `json:"proposal,omitempty"`
	Complete      *bool             `json:"complete,omitempty"`
}

func summarize(r *models.Room) roomResponse {
	out := roomResponse{
		OK:            true,
		RoomID:        r.ID,
		Status:        r.Status,
		StatusVersion: r.StatusVersion,
		HostID:        r.HostID,
		Result:        r.Result,
	}
	if r.Result != nil {
		stats := r.Stats
		out.Stats = &stats
	}
	return out
}

func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, res *room.Result, err error) {
	if err != nil {
		writeError(w, r, s.Log, err)
		return
	}
	out := summarize(res.Room)
	out.Replayed = res.Replayed
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeRoom(w http.ResponseWriter, r *http.Request, rm *models.Room, err error) {
	if err != nil {
		writeError(w, r, s.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(rm))
}

// roomCommand serves the commands whose body is just the request envelope.
func (s *Server) roomCommand(fn func(context.Context, room.Request) (*room.Result, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body room.Request
		if err := decodeBody(r, &body, &body.Token); err != nil {
			writeError(w, r, s.Log, err)
			return
		}
		res, err := fn(r.Context(), body)
		s.writeResult(w, r, res, err)
	}
}

func (s *Server) submitOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		room.Request
		List []string `json:"list"`
	}
	if err := decodeBody(r, &body, &body.Token); err != nil {
		writeError(w, r, s.Log, err)
		return
	}
	res, err := s.Rooms.SubmitOrder(r.Context(), body.Request, body.List)
	s.writeResult(w, r, res, err)
}

func (s *Server) mutateProposal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		room.Request
		proposal.Op
	}
	if err := decodeBody(r, &body, &body.Token); err != nil {
		writeError(w, r, s.Log, err)
		return
	}
	res, err := s.Rooms.MutateProposal(r.Context(), body.Request, body.Op)
	if err != nil {
		writeError(w, r, s.Log, err)
		return
	}
	out := summarize(res.Room)
	out.Proposal = res.Proposal
	out.Complete = &res.Complete
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) commitPlay(w http.ResponseWriter, r *http.Request) {
	var body struct {
		room.Request
		PlayerID string `json:"playerId"`
	}
	if err := decodeBody(r, &body, &body.Token); err != nil {
		writeError(w, r, s.Log, err)
		return
	}
	res, err := s.Rooms.CommitPlay(r.Context(), body.Request, body.PlayerID)
	s.writeResult(w, r, res, err)
}

func (s *Server) updateOptions(w http.ResponseWriter, r *http.Request) {
	var body struct {
		room.Request
		Options room.OptionsPatch `json:"options"`
	}
	if err := decodeBody(r, &body, &body.Token); err != nil {
		writeError(w, r, s.Log, err)
		return
	}
	res, err := s.Rooms.UpdateOptions(r.Context(), body.Request, body.Options)
	s.writeResult(w, r, res, err)
}

type membershipBody struct {
	Token        string             `json:"token"`
	RoomID       string             `json:"roomId"`
	Name         string             `json:"name"`
	Avatar       string             `json:"avatar"`
	Clue         string             `json:"clue"`
	Ready        bool               `json:"ready"`
	ConnectionID string             `json:"connectionId"`
	Options      *room.OptionsPatch `json:"options"`
}

func (s *Server) membership(w http.ResponseWriter, r *http.Request, needRoom bool) (*membershipBody, bool) {
	var body membershipBody
	if err := decodeBody(r, &body, &body.Token); err != nil {
		writeError(w, r, s.Log, err)
		return nil, false
	}
	if needRoom && body.RoomID == "" {
		writeError(w, r, s.Log, apperr.New(apperr.CodeRoomIDRequired, ""))
		return nil, false
	}
	return &body, true
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	body, ok := s.membership(w, r, false)
	if !ok {
		return
	}
	rm, err := s.Rooms.CreateRoom(r.Context(), body.Token, body.Name, body.Options)
	s.writeRoom(w, r, rm, err)
}

func (s *Server) joinRoom(w http.ResponseWriter, r *http.Request) {
	body, ok := s.membership(w, r, true)
	if !ok {
		return
	}
	rm, err := s.Rooms.JoinRoom(r.Context(), body.Token, body.RoomID, body.Name, body.Avatar)
	s.writeRoom(w, r, rm, err)
}

func (s *Server) leaveRoom(w http.ResponseWriter, r *http.Request) {
	body, ok := s.membership(w, r, true)
	if !ok {
		return
	}
	rm, err := s.Rooms.LeaveRoom(r.Context(), body.Token, body.RoomID)
	s.writeRoom(w, r, rm, err)
}

func (s *Server) submitClue(w http.ResponseWriter, r *http.Request) {
	body, ok := s.membership(w, r, true)
	if !ok {
		return
	}
	rm, err := s.Rooms.SubmitClue(r.Context(), body.Token, body.RoomID, body.Clue)
	s.writeRoom(w, r, rm, err)
}

func (s *Server) setReady(w http.ResponseWriter, r *http.Request) {
	body, ok := s.membership(w, r, true)
	if !ok {
		return
	}
	rm, err := s.Rooms.SetReady(r.Context(), body.Token, body.RoomID, body.Ready)
	s.writeRoom(w, r, rm, err)
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	body, ok := s.membership(w, r, true)
	if !ok {
		return
	}
	if err := s.Rooms.Heartbeat(r.Context(), body.Token, body.RoomID, body.ConnectionID); err != nil {
		writeError(w, r, s.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	if roomID == "" {
		writeError(w, r, s.Log, apperr.New(apperr.CodeRoomIDRequired, ""))
		return
	}
	token := requestToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	view, err := s.Rooms.Snapshot(r.Context(), token, roomID)
	if err != nil {
		writeError(w, r, s.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		*room.View
	}{true, view})
}
