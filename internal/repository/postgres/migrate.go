package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strings"

	"github.com/lib/pq"

	"github.com/open-builders/campaign-bot/internal/domain/campaign"
	"github.com/open-builders/campaign-bot/internal/domain/ledger"
	"github.com/open-builders/campaign-bot/internal/domain/project"
	"github.com/open-builders/campaign-bot/internal/domain/user"
)

var (
	_ user.Repository     = (*UserRepository)(nil)
	_ project.Repository  = (*ProjectRepository)(nil)
	_ campaign.Repository = (*CampaignRepository)(nil)
	_ ledger.Repository   = (*LedgerRepository)(nil)
)

//go:embed schema.sql
var schema string

// Migrate applies the idempotent schema. Enabled by DB_AUTO_MIGRATE for local setups.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

const uniqueViolation = "23505"

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == uniqueViolation && (constraint == "" || pqErr.Constraint == constraint)
}

func joinPlatforms[T ~string](ps []T) string {
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		parts = append(parts, string(p))
	}
	return strings.Join(parts, ",")
}

func splitPlatforms[T ~string](s string) []T {
	if s == "" {
		return nil
	}
	var out []T
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, T(p))
		}
	}
	return out
}
