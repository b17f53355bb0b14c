package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sequence/internal/apperr"
)

const maxBodyBytes = 64 << 10

// extractCookieToken extracts a named cookie value from "Cookie" header, or returns empty if not found.
func extractCookieToken(cookieHeader, cookieName string) string {
	parts := strings.Split(cookieHeader, cookieName+"=")
	if len(parts) < 2 {
		return ""
	}
	token := parts[1]
	if idx := strings.Index(token, ";"); idx != -1 {
		token = token[:idx]
	}
	return token
}

// requestToken finds the caller's token outside the body: the auth_token cookie, then a
// bearer Authorization header.
func requestToken(r *http.Request) string {
	if tok := extractCookieToken(r.Header.Get("Cookie"), "auth_token"); tok != "" {
		return tok
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched. When *token is
// still empty afterwards it is filled from the cookie or header.
func decodeBody(r *http.Request, v any, token *string) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Wrap(apperr.CodeInvalidPayload, err, "decode body")
	}
	if *token == "" {
		*token = requestToken(r)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorEnvelope struct {
	Error apperr.Code `json:"error"`
}

// writeError maps err onto the error envelope. Internal failures are logged with the cause
// and surfaced only by code.
func writeError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	code := apperr.CodeOf(err)
	if code == apperr.CodeInternal {
		log.WithFields(logrus.Fields{
			"path":  r.URL.Path,
			"error": err,
		}).Error("request failed")
	}
	writeJSON(w, apperr.HTTPStatus(code), errorEnvelope{Error: code})
}
