package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrReuse is returned when a salt or nonce has already been recorded.
var ErrReuse = errors.New("salt or nonce reuse detected")

// Journal keeps a history of the public KDF salt and AEAD nonce of every save.
// It stores nothing secret: both values are already written in the clear
// inside each container.
type Journal struct {
	sql  *sql.DB
	path string
}

// Save is one recorded container write.
type Save struct {
	ID        int64
	VaultPath string
	Salt      []byte
	Nonce     []byte
	SavedAt   time.Time
}

const createSavesTable = `
CREATE TABLE IF NOT EXISTS saves (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	vault_path TEXT     NOT NULL,
	salt       BLOB     NOT NULL UNIQUE,
	nonce      BLOB     NOT NULL UNIQUE,
	saved_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_saves_path ON saves(vault_path, id);
`

// Open creates (if needed) and opens the journal database at path.
// The caller must Close it.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	handle, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}
	handle.SetMaxOpenConns(1)

	// Prime the connection and ensure the database file is created.
	if err := handle.Ping(); err != nil {
		handle.Close()
		return nil, fmt.Errorf("ping journal database: %w", err)
	}

	if err := ensurePerm0600(path); err != nil {
		handle.Close()
		return nil, err
	}

	if _, err := handle.Exec(createSavesTable); err != nil {
		handle.Close()
		return nil, fmt.Errorf("migrate journal schema: %w", err)
	}

	return &Journal{sql: handle, path: path}, nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	if j == nil || j.sql == nil {
		return nil
	}
	return j.sql.Close()
}

type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

func checkUnused(q queryRower, salt, nonce []byte) error {
	var n int
	err := q.QueryRow(`SELECT COUNT(*) FROM saves WHERE salt = ? OR nonce = ?`, salt, nonce).Scan(&n)
	if err != nil {
		return fmt.Errorf("check journal: %w", err)
	}
	if n > 0 {
		return ErrReuse
	}
	return nil
}

// Check fails with ErrReuse if either the salt or the nonce was already
// recorded for any vault. It writes nothing; call it before the container is
// written and Record once the write has landed.
func (j *Journal) Check(vaultPath string, salt, nonce []byte) error {
	if j == nil || j.sql == nil {
		return errors.New("journal handle is nil")
	}
	return checkUnused(j.sql, salt, nonce)
}

// Record stores the parameters of a completed save, failing with ErrReuse if
// either the salt or the nonce was seen before for any vault.
func (j *Journal) Record(vaultPath string, salt, nonce []byte) error {
	if j == nil || j.sql == nil {
		return errors.New("journal handle is nil")
	}

	tx, err := j.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	defer tx.Rollback()

	if err := checkUnused(tx, salt, nonce); err != nil {
		return err
	}

	if _, err := tx.Exec(
		`INSERT INTO saves (vault_path, salt, nonce, saved_at) VALUES (?, ?, ?, ?)`,
		vaultPath, salt, nonce, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("insert save: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit journal tx: %w", err)
	}
	return nil
}

// History returns the saves recorded for vaultPath, oldest first.
// A limit of zero or less returns every row.
func (j *Journal) History(vaultPath string, limit int) ([]Save, error) {
	if j == nil || j.sql == nil {
		return nil, errors.New("journal handle is nil")
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := j.sql.Query(
		`SELECT id, vault_path, salt, nonce, saved_at
		   FROM (SELECT * FROM saves WHERE vault_path = ? ORDER BY id DESC LIMIT ?)
		  ORDER BY id`,
		vaultPath, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select saves: %w", err)
	}
	defer rows.Close()

	var out []Save
	for rows.Next() {
		var s Save
		if err := rows.Scan(&s.ID, &s.VaultPath, &s.Salt, &s.Nonce, &s.SavedAt); err != nil {
			return nil, fmt.Errorf("scan save row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate save rows: %w", err)
	}
	return out, nil
}

// ensurePerm0600 restricts the journal to its owner on Unix systems.
func ensurePerm0600(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	if err := os.Chmod(path, 0o600); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("chmod journal: %w", err)
	}
	return nil
}
