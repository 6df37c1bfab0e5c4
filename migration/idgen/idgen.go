// Package idgen produces fresh fixed-length numeric identifiers that are not
// yet used as a primary key of an entity table.
package idgen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/stokaro/rekey/dbschema"
	"github.com/stokaro/rekey/migration/entity"
)

var (
	// ErrExhausted is returned when every drawn candidate was already taken.
	ErrExhausted = errors.New("identifier generation exhausted")
	// ErrLookupFailed is returned when availability could not be checked.
	ErrLookupFailed = errors.New("identifier availability lookup failed")
)

const (
	DefaultMaxAttempts       = 1000
	DefaultMaxLookupFailures = 3
	DefaultRetryDelay        = 100 * time.Millisecond
)

// RandomFunc returns a uniform random integer in [0, n).
type RandomFunc func(n int64) int64

// Generator draws candidate identifiers and checks them against the store.
type Generator struct {
	store             dbschema.Store
	random            RandomFunc
	maxAttempts       int
	maxLookupFailures int
	retryDelay        time.Duration
	logger            *slog.Logger
}

// NewGenerator creates a generator backed by math/rand/v2.
func NewGenerator(store dbschema.Store) *Generator {
	return &Generator{
		store:             store,
		random:            rand.Int64N,
		maxAttempts:       DefaultMaxAttempts,
		maxLookupFailures: DefaultMaxLookupFailures,
		retryDelay:        DefaultRetryDelay,
		logger:            slog.Default(),
	}
}

// WithRandom sets the random source
func (g *Generator) WithRandom(fn RandomFunc) *Generator {
	tmp := *g
	tmp.random = fn
	return &tmp
}

// WithMaxAttempts sets how many candidates are drawn before giving up
func (g *Generator) WithMaxAttempts(n int) *Generator {
	tmp := *g
	if n > 0 {
		tmp.maxAttempts = n
	}
	return &tmp
}

// WithLookupRetry sets how many consecutive lookup failures are tolerated
// and how long to wait between them
func (g *Generator) WithLookupRetry(failures int, delay time.Duration) *Generator {
	tmp := *g
	if failures > 0 {
		tmp.maxLookupFailures = failures
	}
	tmp.retryDelay = delay
	return &tmp
}

// WithLogger sets the logger for the generator
func (g *Generator) WithLogger(l *slog.Logger) *Generator {
	tmp := *g
	tmp.logger = l
	return &tmp
}

// Candidate draws a random identifier of the given length with a non-zero
// leading digit, uniformly over [10^(length-1), 10^length).
func (g *Generator) Candidate(length int) string {
	low := pow10(length - 1)
	return strconv.FormatInt(low+g.random(9*low), 10)
}

// Generate returns an identifier for e that is unused at the moment of the
// check. A failed lookup is retried and never treated as "available".
func (g *Generator) Generate(ctx context.Context, e *entity.Entity) (string, error) {
	lookupFailures := 0
	for attempt := 1; attempt <= g.maxAttempts; {
		candidate := g.Candidate(e.IDLength)

		taken, err := g.exists(ctx, e, candidate)
		if err != nil {
			lookupFailures++
			if lookupFailures >= g.maxLookupFailures {
				return "", fmt.Errorf("%w: %s %q: %w", ErrLookupFailed, e.Type, candidate, err)
			}
			g.logger.Warn("Retrying identifier lookup", "type", e.Type, "candidate", candidate, "error", err)
			if err := sleep(ctx, g.retryDelay); err != nil {
				return "", err
			}
			continue
		}
		lookupFailures = 0

		if !taken {
			return candidate, nil
		}

		g.logger.Debug("Identifier candidate already taken", "type", e.Type, "candidate", candidate, "attempt", attempt)
		attempt++
	}

	return "", fmt.Errorf("%w: %s after %d attempts", ErrExhausted, e.Type, g.maxAttempts)
}

func (g *Generator) exists(ctx context.Context, e *entity.Entity, id string) (bool, error) {
	d := g.store.Dialect()
	query := d.Rebind(fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ?",
		d.QuoteIdent(e.Table), d.QuoteIdent(e.IDColumn)))

	var one int
	err := g.store.QueryRowContext(ctx, query, id).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, err
	default:
		return true, nil
	}
}

func pow10(n int) int64 {
	v := int64(1)
	for range n {
		v *= 10
	}
	return v
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
