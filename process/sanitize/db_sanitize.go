// Package sanitize truncates application tables for a fresh environment and
// optionally reseeds the master roles and administrator.
package sanitize

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"donatenow/database"
	"donatenow/logging"

	"gorm.io/gorm"
)

// DefaultTables lists the application tables, children first.
const DefaultTables = "likes,stories,donations,causes,refresh_tokens,users,roles"

// Options controls a sanitize run. Nothing is truncated unless DryRun is
// false and Yes is true.
type Options struct {
	DryRun bool
	Yes    bool
	Reseed bool
	Tables string
}

// allow letters, digits, underscore, start with letter or underscore
var nameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseTables splits a comma-separated list, dropping blanks and invalid
// identifiers.
func ParseTables(list string) []string {
	parts := strings.Split(list, ",")
	wanted := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !nameRe.MatchString(p) {
			logging.Warn().Str("table", p).Msg("skipping invalid table name")
			continue
		}
		wanted = append(wanted, p)
	}
	return wanted
}

// TruncateStatement quotes the validated identifiers into one TRUNCATE.
func TruncateStatement(tables []string) string {
	quoted := make([]string, 0, len(tables))
	for _, t := range tables {
		quoted = append(quoted, fmt.Sprintf("%q", t))
	}
	return fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(quoted, ", "))
}

// Run executes the sanitize flow, writing the operator-facing summary to out.
func Run(ctx context.Context, gdb *gorm.DB, opts Options, out io.Writer) error {
	wanted := ParseTables(opts.Tables)

	existing := []string{}
	// check presence individually to avoid any injection risk
	for _, t := range wanted {
		var cnt int64
		if err := gdb.WithContext(ctx).Raw("SELECT count(*) FROM pg_tables WHERE schemaname = 'public' AND tablename = ?", t).Scan(&cnt).Error; err != nil {
			return fmt.Errorf("query pg_tables for %s: %w", t, err)
		}
		if cnt > 0 {
			existing = append(existing, t)
		} else {
			logging.Info().Str("table", t).Msg("table not found, skipping")
		}
	}
	if len(existing) == 0 {
		fmt.Fprintln(out, "no requested tables present in the database; nothing to do")
		return nil
	}

	fmt.Fprintln(out, "Tables considered for truncation:")
	for _, t := range existing {
		fmt.Fprintf(out, " - %s\n", t)
	}
	if opts.DryRun {
		fmt.Fprintln(out, "dry-run enabled; no changes will be made. Use --dry-run=false --yes to execute.")
		return nil
	}
	if !opts.Yes {
		fmt.Fprintln(out, "Destructive operation. Pass --yes to confirm execution. Aborting.")
		return nil
	}

	stmt := TruncateStatement(existing)
	logging.Info().Str("stmt", stmt).Msg("executing")
	tctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := gdb.WithContext(tctx).Exec(stmt).Error; err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	logging.Info().Msg("truncate completed")

	if opts.Reseed {
		if err := database.Seed(gdb.WithContext(ctx)); err != nil {
			return fmt.Errorf("reseed: %w", err)
		}
	}
	return nil
}
