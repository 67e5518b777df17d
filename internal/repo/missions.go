package repo

import (
	"context"
	"database/sql"
	"strings"

	"crewline/internal/domain"
)

const missionColumns = `id,chief_id,name,COALESCE(description,'') AS description,status,created_at,updated_at,deleted_at`

func scanMission(row *sql.Row) (domain.Mission, error) {
	var m domain.Mission
	var deletedAt sql.NullString
	err := row.Scan(&m.ID, &m.ChiefID, &m.Name, &m.Description, &m.Status, &m.CreatedAt, &m.UpdatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, storeErr("scan mission", err)
	}
	if deletedAt.Valid {
		m.DeletedAt = &deletedAt.String
	}
	return m, nil
}

func (r Repo) InsertMission(ctx context.Context, tx *sql.Tx, m domain.Mission) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO missions(chief_id,name,description,status,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		m.ChiefID, m.Name, nullable(m.Description), m.Status, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return 0, storeErr("insert mission", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr("insert mission", err)
	}
	return id, nil
}

// GetMission returns a live (not soft-deleted) mission.
func (r Repo) GetMission(ctx context.Context, id int64) (domain.Mission, error) {
	return scanMission(r.DB.QueryRowContext(ctx,
		`SELECT `+missionColumns+` FROM missions WHERE id=? AND deleted_at IS NULL`, id))
}

// MissionLive reports whether the mission exists and is not soft-deleted.
func (r Repo) MissionLive(ctx context.Context, id int64) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM missions WHERE id=? AND deleted_at IS NULL`, id).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storeErr("mission live", err)
	}
	return true, nil
}

type MissionFilters struct {
	Status string
	Name   string
}

// ListMissions returns live missions matching the optional status equality and
// name substring filters, newest first.
func (r Repo) ListMissions(ctx context.Context, f MissionFilters) ([]domain.Mission, error) {
	clauses := []string{"deleted_at IS NULL"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Name != "" {
		clauses = append(clauses, "name LIKE ?")
		args = append(args, "%"+f.Name+"%")
	}
	query := `SELECT ` + missionColumns + ` FROM missions WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list missions", err)
	}
	defer rows.Close()
	var res []domain.Mission
	for rows.Next() {
		var m domain.Mission
		var deletedAt sql.NullString
		if err := rows.Scan(&m.ID, &m.ChiefID, &m.Name, &m.Description, &m.Status, &m.CreatedAt, &m.UpdatedAt, &deletedAt); err != nil {
			return nil, storeErr("scan mission", err)
		}
		if deletedAt.Valid {
			m.DeletedAt = &deletedAt.String
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list missions", err)
	}
	return res, nil
}

// UpdateMissionFields patches name and/or description of a live mission.
func (r Repo) UpdateMissionFields(ctx context.Context, tx *sql.Tx, id int64, name, description *string, now string) error {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullableStringPtr(description))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, now, id)
	res, err := tx.ExecContext(ctx, `UPDATE missions SET `+strings.Join(fields, ",")+` WHERE id=? AND deleted_at IS NULL`, args...)
	if err != nil {
		return storeErr("update mission", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteMission marks a live mission deleted. Its status is frozen from
// then on; crew rows are retained.
func (r Repo) SoftDeleteMission(ctx context.Context, tx *sql.Tx, id int64, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE missions SET deleted_at=?, updated_at=? WHERE id=? AND deleted_at IS NULL`, now, now, id)
	if err != nil {
		return storeErr("soft delete mission", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateMissionStatus writes the new status only if the mission still holds
// the expected prior status. A concurrent transition that got there first
// makes the write a no-op, reported as ErrConcurrentModification so the
// caller knows its read was stale.
func (r Repo) UpdateMissionStatus(ctx context.Context, tx *sql.Tx, id int64, from, to, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE missions SET status=?, updated_at=? WHERE id=? AND status=? AND deleted_at IS NULL`,
		to, now, id, from)
	if err != nil {
		return storeErr("update mission status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("update mission status", err)
	}
	if n == 1 {
		return nil
	}
	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM missions WHERE id=? AND deleted_at IS NULL`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return storeErr("update mission status", err)
	}
	return ErrConcurrentModification
}
