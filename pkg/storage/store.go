// Package storage keeps fitted models so that repeated predictions against
// the same reference catalog skip the fit.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/HatiCode/lycsurv/pkg/models"
)

// ErrEmptyKey is returned when a snapshot or lookup has no key.
var ErrEmptyKey = errors.New("snapshot key cannot be empty")

// Snapshot is a fitted model together with the run that produced it.
type Snapshot struct {
	Key        string    `json:"key"`
	RunID      string    `json:"run_id"`
	Method     string    `json:"method"`
	Response   string    `json:"response"`
	Predictors []string  `json:"predictors"`
	FittedAt   time.Time `json:"fitted_at"`
	Rows       int       `json:"rows"`
	Events     int       `json:"events"`

	Params models.Params `json:"params"`

	// Stats is the goodness of fit on the training rows, if it was assessed.
	Stats *models.Stats `json:"stats,omitempty"`
}

// Store persists snapshots by key.
type Store interface {
	Put(ctx context.Context, snapshot Snapshot) error
	Get(ctx context.Context, key string) (Snapshot, bool, error)
}

// Key fingerprints the inputs of a fit. Parts are joined with a separator
// that cannot occur in column names, so ("a", "bc") and ("ab", "c") differ.
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:16])
}
