// Package linkrewrite rewrites entity identifiers embedded in path-like
// free-text values such as notification deep links.
package linkrewrite

import (
	"context"
	"fmt"
	"strings"

	"github.com/stokaro/rekey/dbschema"
	"github.com/stokaro/rekey/migration/entity"
)

// likeEscape is the LIKE escape character. '!' behaves the same in every
// supported dialect, unlike backslash in MySQL string literals.
const likeEscape = '!'

// RewriteLink replaces every prefix-anchored occurrence of oldID in link with
// newID. An occurrence only counts when the identifier token ends there, so
// "/groups/12" does not match inside "/groups/123". Bare identifiers without
// one of the prefixes are never touched.
func RewriteLink(link, oldID, newID string, prefixes []string) (string, bool) {
	if oldID == "" || oldID == newID {
		return link, false
	}

	out := link
	for _, prefix := range prefixes {
		out = replaceToken(out, prefix+oldID, prefix+newID)
	}
	return out, out != link
}

func replaceToken(s, old, repl string) string {
	if !strings.Contains(s, old) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + len(repl) - len(old))
	i := 0
	for {
		j := strings.Index(s[i:], old)
		if j < 0 {
			break
		}
		j += i
		end := j + len(old)
		if end < len(s) && isTokenByte(s[end]) {
			b.WriteString(s[i : j+1])
			i = j + 1
			continue
		}
		b.WriteString(s[i:j])
		b.WriteString(repl)
		i = end
	}
	b.WriteString(s[i:])
	return b.String()
}

// isTokenByte reports whether c can continue an identifier token. Tokens use
// the unreserved URL path alphabet [A-Za-z0-9-._~]; anything else ('/', '?',
// '#', '&', ...) ends the token.
func isTokenByte(c byte) bool {
	switch {
	case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c == '-' || c == '_' || c == '.' || c == '~':
		return true
	default:
		return false
	}
}

// Rewriter persists RewriteLink results for every row of the link target.
type Rewriter struct {
	store  dbschema.Store
	target entity.LinkTarget
}

// NewRewriter creates a rewriter for the given free-text column
func NewRewriter(store dbschema.Store, target entity.LinkTarget) *Rewriter {
	return &Rewriter{store: store, target: target}
}

type candidate struct {
	key  any
	link string
}

// Rewrite updates every row whose link denotes oldID under one of prefixes and
// returns the number of rows changed.
func (r *Rewriter) Rewrite(ctx context.Context, oldID, newID string, prefixes []string) (int64, error) {
	if len(prefixes) == 0 {
		return 0, nil
	}

	candidates, err := r.candidates(ctx, oldID, prefixes)
	if err != nil {
		return 0, err
	}

	d := r.store.Dialect()
	update := d.Rebind(fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?",
		d.QuoteIdent(r.target.Table), d.QuoteIdent(r.target.Column), d.QuoteIdent(r.target.KeyColumn)))

	var updated int64
	for _, row := range candidates {
		link, changed := RewriteLink(row.link, oldID, newID, prefixes)
		if !changed {
			continue
		}
		if _, err := r.store.ExecContext(ctx, update, link, row.key); err != nil {
			return updated, fmt.Errorf("failed to rewrite %s.%s for key %v: %w", r.target.Table, r.target.Column, row.key, err)
		}
		updated++
	}
	return updated, nil
}

// candidates reads every row that may contain a reference. All rows are read
// before any update is issued because the session has a single connection.
func (r *Rewriter) candidates(ctx context.Context, oldID string, prefixes []string) ([]candidate, error) {
	d := r.store.Dialect()
	col := d.QuoteIdent(r.target.Column)

	conds := make([]string, 0, len(prefixes))
	args := make([]any, 0, len(prefixes))
	for _, prefix := range prefixes {
		conds = append(conds, fmt.Sprintf("%s LIKE ? ESCAPE '%c'", col, likeEscape))
		args = append(args, "%"+escapeLike(prefix+oldID)+"%")
	}

	query := d.Rebind(fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s",
		d.QuoteIdent(r.target.KeyColumn), col, d.QuoteIdent(r.target.Table), strings.Join(conds, " OR ")))

	rows, err := r.store.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s.%s: %w", r.target.Table, r.target.Column, err)
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var row candidate
		if err := rows.Scan(&row.key, &row.link); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", r.target.Table, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", r.target.Table, err)
	}
	return out, nil
}

func escapeLike(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', likeEscape:
			b.WriteByte(likeEscape)
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
