package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"crewline/internal/domain"
)

func (r Repo) InsertBrawler(ctx context.Context, tx *sql.Tx, b domain.Brawler) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO brawlers(username,password_hash,created_at) VALUES (?,?,?)`,
		b.Username, b.PasswordHash, b.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrUsernameTaken
		}
		return 0, storeErr("insert brawler", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr("insert brawler", err)
	}
	return id, nil
}

// isUniqueViolation matches the sqlite constraint code; the driver's error
// message is not stable across versions.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r Repo) GetBrawler(ctx context.Context, id int64) (domain.Brawler, error) {
	var b domain.Brawler
	err := r.DB.QueryRowContext(ctx, `SELECT id,username,password_hash,created_at FROM brawlers WHERE id=?`, id).
		Scan(&b.ID, &b.Username, &b.PasswordHash, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, storeErr("get brawler", err)
	}
	return b, nil
}

func (r Repo) GetBrawlerByUsername(ctx context.Context, username string) (domain.Brawler, error) {
	var b domain.Brawler
	err := r.DB.QueryRowContext(ctx, `SELECT id,username,password_hash,created_at FROM brawlers WHERE username=?`, username).
		Scan(&b.ID, &b.Username, &b.PasswordHash, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, storeErr("get brawler", err)
	}
	return b, nil
}
