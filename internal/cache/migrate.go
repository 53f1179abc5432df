package cache

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
)

// schemaVersion is stored in PRAGMA user_version.
const schemaVersion = 1

type column struct {
	Name        string
	Type        string
	NotNull     bool
	DefaultText string
}

// Migrate brings caches written by older builds up to schemaVersion. Fresh
// databases are left for the schema to create.
func Migrate(ctx context.Context, db *sql.DB) error {
	userVersion, err := userVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("cache: user_version: %w", err)
	}
	if userVersion >= schemaVersion {
		return nil
	}
	log.Printf("cache: sqlite: path=%s user_version=%d", dbPath(ctx, db), userVersion)

	adds := []struct {
		table, column, ddl string
	}{
		{"bodies", "script_version", `ALTER TABLE bodies ADD COLUMN script_version INTEGER NOT NULL DEFAULT 0;`},
		{"records", "signature", `ALTER TABLE records ADD COLUMN signature TEXT NOT NULL DEFAULT '';`},
	}
	for _, a := range adds {
		cols, err := tableInfo(ctx, db, a.table)
		if err != nil {
			return fmt.Errorf("cache: describe %s: %w", a.table, err)
		}
		if len(cols) == 0 {
			continue
		}
		if _, ok := cols[a.column]; ok {
			continue
		}
		if _, err := db.ExecContext(ctx, a.ddl); err != nil {
			return fmt.Errorf("cache: add %s.%s: %w", a.table, a.column, err)
		}
		log.Printf("cache: sqlite: added %s column to %s", a.column, a.table)
	}

	if cols, err := tableInfo(ctx, db, "bodies"); err != nil {
		return fmt.Errorf("cache: describe bodies: %w", err)
	} else if len(cols) > 0 {
		if n, err := pruneBodies(ctx, db, DefaultKeepBodies); err != nil {
			return err
		} else if n > 0 {
			log.Printf("cache: sqlite: pruned %d stale bodies", n)
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, schemaVersion)); err != nil {
		return fmt.Errorf("cache: set user_version: %w", err)
	}
	return nil
}

func pruneBodies(ctx context.Context, db *sql.DB, keep int) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM bodies WHERE hash NOT IN (
  SELECT hash FROM bodies ORDER BY updated_at DESC LIMIT ?
);`, keep)
	if err != nil {
		return 0, fmt.Errorf("cache: prune bodies: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func dbPath(ctx context.Context, db *sql.DB) string {
	rows, err := db.QueryContext(ctx, `PRAGMA database_list;`)
	if err != nil {
		return "(unknown)"
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq  int
			name string
			file sql.NullString
		)
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return "(unknown)"
		}
		if strings.EqualFold(strings.TrimSpace(name), "main") {
			if file.Valid && strings.TrimSpace(file.String) != "" {
				return file.String
			}
			return "(memory)"
		}
	}
	return "(unknown)"
}

func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func tableInfo(ctx context.Context, db *sql.DB, table string) (map[string]column, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]column)
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		out[strings.ToLower(strings.TrimSpace(name))] = column{
			Name:        name,
			Type:        strings.TrimSpace(colType),
			NotNull:     notNull == 1,
			DefaultText: strings.TrimSpace(defaultVal.String),
		}
	}
	return out, rows.Err()
}
