// Package testutil holds fakes shared by the package tests.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jason-s-yu/sequence/internal/apperr"
	"github.com/jason-s-yu/sequence/internal/auth"
	"github.com/jason-s-yu/sequence/internal/models"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Tokens verifies tokens of the form "<uid>" or "admin:<uid>".
type Tokens struct{}

func (Tokens) Verify(token string) (auth.Identity, error) {
	if token == "" {
		return auth.Identity{}, apperr.New(apperr.CodeAuthRequired, "missing token")
	}
	if token == "bad" {
		return auth.Identity{}, apperr.New(apperr.CodeUnauthorized, "invalid token")
	}
	if uid, ok := strings.CutPrefix(token, "admin:"); ok {
		return auth.Identity{UID: uid, Admin: true}, nil
	}
	return auth.Identity{UID: token}, nil
}

// Audit collects published command records.
type Audit struct {
	mu      sync.Mutex
	Records []models.CommandRecord
}

func (a *Audit) PublishCommandRecord(ctx context.Context, record models.CommandRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Records = append(a.Records, record)
	return nil
}

// Snapshot returns a copy of the records collected so far.
func (a *Audit) Snapshot() []models.CommandRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.CommandRecord(nil), a.Records...)
}
