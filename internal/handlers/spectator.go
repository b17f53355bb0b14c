package handlers

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/skip2/go-qrcode"

	"github.com/jason-s-yu/sequence/internal/apperr"
	"github.com/jason-s-yu/sequence/internal/models"
	"github.com/jason-s-yu/sequence/internal/spectator"
)

const qrSize = 256

type sessionResponse struct {
	OK      bool                     `json:"ok"`
	Session *models.SpectatorSession `json:"session"`
}

func (s *Server) writeSession(w http.ResponseWriter, r *http.Request, sess *models.SpectatorSession, err error) {
	if err != nil {
		writeError(w, r, s.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{OK: true, Session: sess})
}

func (s *Server) inviteLink(inv *models.SpectatorInvite) string {
	q := url.Values{"roomId": {inv.RoomID}, "inviteId": {inv.ID}}
	return fmt.Sprintf("%s/spectate?%s", s.InviteBaseURL, q.Encode())
}

func (s *Server) createInvite(w http.ResponseWriter, r *http.Request) {
	var body spectator.InviteRequest
	if err := decodeBody(r, &body, &body.Token); err != nil {
		writeError(w, r, s.Log, err)
		return
	}
	inv, err := s.Spectators.CreateInvite(r.Context(), body)
	if err != nil {
		writeError(w, r, s.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK     bool                    `json:"ok"`
		Invite *models.SpectatorInvite `json:"invite"`
		Link   string                  `json:"link"`
	}{true, inv, s.inviteLink(inv)})
}

func (s *Server) consumeInvite(w http.ResponseWriter, r *http.Request) {
	var body spectator.ConsumeRequest
	if err := decodeBody(r, &body, &body.Token); err != nil {
		writeError(w, r, s.Log, err)
		return
	}
	sess, err := s.Spectators.ConsumeInvite(r.Context(), body)
	s.writeSession(w, r, sess, err)
}

// inviteQR renders the invite link as a PNG for the host to show.
func (s *Server) inviteQR(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := requestToken(r)
	if token == "" {
		token = q.Get("token")
	}
	inv, err := s.Spectators.GetInvite(r.Context(), token, q.Get("roomId"), q.Get("inviteId"))
	if err != nil {
		writeError(w, r, s.Log, err)
		return
	}
	png, err := qrcode.Encode(s.inviteLink(inv), qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, r, s.Log, apperr.Wrap(apperr.CodeInternal, err, "encode invite qr"))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (s *Server) watch(w http.ResponseWriter, r *http.Request) {
	var body spectator.SessionRequest
	if err := decodeBody(r, &body, &body.Token); err != nil {
		writeError(w, r, s.Log, err)
		return
	}
	view, err := s.Spectators.Watch(r.Context(), body)
	if err != nil {
		writeError(w, r, s.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		*spectator.WatchView
	}{true, view})
}

func (s *Server) rejoin(w http.ResponseWriter, r *http.Request) {
	var body spectator.RejoinRequest
	if err := decodeBody(r, &body, &body.Token); err != nil {
		writeError(w, r, s.Log, err)
		return
	}
	sess, err := s.Spectators.RequestRejoin(r.Context(), body)
	s.writeSession(w, r, sess, err)
}

func (s *Server) cancelRejoin(w http.ResponseWriter, r *http.Request) {
	var body spectator.SessionRequest
	if err := decodeBody(r, &body, &body.Token); err != nil {
		writeError(w, r, s.Log, err)
		return
	}
	sess, err := s.Spectators.CancelRejoin(r.Context(), body)
	s.writeSession(w, r, sess, err)
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	var body spectator.ResolveRequest
	if err := decodeBody(r, &body, &body.Token); err != nil {
		writeError(w, r, s.Log, err)
		return
	}
	sess, err := s.Spectators.Approve(r.Context(), body)
	s.writeSession(w, r, sess, err)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	var body spectator.ResolveRequest
	if err := decodeBody(r, &body, &body.Token); err != nil {
		writeError(w, r, s.Log, err)
		return
	}
	sess, err := s.Spectators.Reject(r.Context(), body)
	s.writeSession(w, r, sess, err)
}

func (s *Server) end(w http.ResponseWriter, r *http.Request) {
	var body spectator.EndRequest
	if err := decodeBody(r, &body, &body.Token); err != nil {
		writeError(w, r, s.Log, err)
		return
	}
	sess, err := s.Spectators.End(r.Context(), body)
	s.writeSession(w, r, sess, err)
}
