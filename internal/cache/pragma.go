package cache

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/pkg/errors"
)

// TuningEnv turns on the extra pragmas below. The store holds a single
// connection, so per-connection pragmas stick.
const TuningEnv = "OVERLAY_SQLITE_TUNING"

var tuning = []struct{ name, value string }{
	{"synchronous", "NORMAL"},
	{"busy_timeout", "5000"},
	{"temp_store", "MEMORY"},
}

func tuningEnabled() bool { return os.Getenv(TuningEnv) == "1" }

// tune sets each pragma and returns what SQLite reports back for it.
// Failures are logged and skipped.
func tune(ctx context.Context, db *sql.DB) map[string]string {
	got := make(map[string]string, len(tuning))
	for _, p := range tuning {
		v, err := setPragma(ctx, db, p.name, p.value)
		if err != nil {
			slog.Warn("cache: pragma failed", "pragma", p.name, "err", err)
			continue
		}
		got[p.name] = v
		slog.Debug("cache: pragma set", "pragma", p.name, "value", v)
	}
	return got
}

func setPragma(ctx context.Context, db *sql.DB, name, value string) (string, error) {
	if _, err := db.ExecContext(ctx, "PRAGMA "+name+" = "+value); err != nil {
		return "", errors.Wrapf(err, "set %s", name)
	}
	var v string
	if err := db.QueryRowContext(ctx, "PRAGMA "+name).Scan(&v); err != nil {
		return "", errors.Wrapf(err, "read %s", name)
	}
	return v, nil
}
