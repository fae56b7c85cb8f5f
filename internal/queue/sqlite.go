package queue

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"
)

var tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// sqliteBackend stores records in one table ordered by an autoincrement key.
type sqliteBackend struct {
	db    *sql.DB
	table string
}

func openSQLite(ctx context.Context, db *sql.DB, table string) (*sqliteBackend, int, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, 0, fmt.Errorf("invalid queue table name %q", table)
	}
	b := &sqliteBackend{db: db, table: table}
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			payload BLOB NOT NULL,
			created_at INTEGER NOT NULL
		)
	`, table))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create %s table: %w", table, err)
	}
	size, err := b.count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return b, size, nil
}

func (b *sqliteBackend) count(ctx context.Context) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, b.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", b.table, err)
	}
	return n, nil
}

func (b *sqliteBackend) push(ctx context.Context, record []byte) error {
	_, err := b.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (payload, created_at) VALUES (?, ?)`, b.table),
		record, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", b.table, err)
	}
	return nil
}

func (b *sqliteBackend) head(ctx context.Context, n int) ([][]byte, error) {
	rows, err := b.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT payload FROM %s ORDER BY seq ASC LIMIT ?`, b.table), n)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", b.table, err)
	}
	defer rows.Close()

	records := make([][]byte, 0, n)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", b.table, err)
		}
		records = append(records, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", b.table, err)
	}
	return records, nil
}

func (b *sqliteBackend) drop(ctx context.Context, n int) error {
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %[1]s WHERE seq IN (SELECT seq FROM %[1]s ORDER BY seq ASC LIMIT ?)`, b.table), n)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", b.table, err)
	}
	return nil
}

func (b *sqliteBackend) close() error {
	return nil
}
