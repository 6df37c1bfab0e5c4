package dbschema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Session is a single pinned connection. It is not safe for concurrent use:
// the batch runs strictly one statement at a time on it.
type Session struct {
	*sql.Conn
	dialect Dialect
}

// NewSession wraps an already acquired connection without running the
// dialect's session initialization.
func NewSession(conn *sql.Conn, dialect Dialect) *Session {
	return &Session{Conn: conn, dialect: dialect}
}

// Dialect returns the SQL dialect of the session.
func (s *Session) Dialect() Dialect {
	return s.dialect
}

// WithRelaxedConstraints runs fn with foreign key enforcement suspended for
// this session. The previous enforcement state is restored on every exit path,
// including a failing or panicking fn and a cancelled ctx. A failure to restore
// is joined into the returned error.
func (s *Session) WithRelaxedConstraints(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	previous, err := s.dialect.ForeignKeyState(ctx, s.Conn)
	if err != nil {
		return err
	}
	restoreSQL, err := s.dialect.RestoreForeignKeys(previous)
	if err != nil {
		return err
	}

	if _, err := s.ExecContext(ctx, s.dialect.RelaxForeignKeys()); err != nil {
		return fmt.Errorf("failed to relax foreign key enforcement: %w", err)
	}

	defer func() {
		if _, rerr := s.ExecContext(context.WithoutCancel(ctx), restoreSQL); rerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to restore foreign key enforcement: %w", rerr))
		}
	}()

	return fn(ctx)
}
