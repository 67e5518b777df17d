package repo

import (
	"context"
	"database/sql"

	"crewline/internal/domain"
)

// AdmitCrewMember admits a brawler to a mission's crew. The capacity check,
// the uniqueness check and the insert happen in one conditional statement, so
// two concurrent joins can never both observe count < capacity and overshoot
// the limit — the store refuses the second one.
//
// Zero rows affected means some guard condition failed; the follow-up reads
// only classify which one, they play no part in enforcing the invariant.
func (r Repo) AdmitCrewMember(ctx context.Context, tx *sql.Tx, missionID, brawlerID int64, capacity int, now string) error {
	res, err := tx.ExecContext(ctx, `
INSERT INTO crew_memberships(mission_id, brawler_id, created_at)
SELECT ?, ?, ?
WHERE EXISTS (SELECT 1 FROM missions WHERE id=? AND deleted_at IS NULL)
  AND NOT EXISTS (SELECT 1 FROM crew_memberships WHERE mission_id=? AND brawler_id=?)
  AND (SELECT COUNT(*) FROM crew_memberships WHERE mission_id=?) < ?`,
		missionID, brawlerID, now, missionID, missionID, brawlerID, missionID, capacity)
	if err != nil {
		return storeErr("admit crew member", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("admit crew member", err)
	}
	if n == 1 {
		return nil
	}

	var live int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM missions WHERE id=? AND deleted_at IS NULL`, missionID).Scan(&live)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return storeErr("admit crew member", err)
	}
	var member int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM crew_memberships WHERE mission_id=? AND brawler_id=?`, missionID, brawlerID).Scan(&member)
	if err == nil {
		return ErrAlreadyMember
	}
	if err != sql.ErrNoRows {
		return storeErr("admit crew member", err)
	}
	return ErrCapacityExceeded
}

// ReleaseCrewMember removes a membership row. Removal is permitted even after
// the mission was soft-deleted; the capacity invariant no longer applies.
func (r Repo) ReleaseCrewMember(ctx context.Context, tx *sql.Tx, missionID, brawlerID int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM crew_memberships WHERE mission_id=? AND brawler_id=?`, missionID, brawlerID)
	if err != nil {
		return storeErr("release crew member", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotAMember
	}
	return nil
}

func (r Repo) CountCrew(ctx context.Context, missionID int64) (int64, error) {
	var count int64
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM crew_memberships WHERE mission_id=?`, missionID).Scan(&count)
	if err != nil {
		return 0, storeErr("count crew", err)
	}
	return count, nil
}

func (r Repo) IsCrewMember(ctx context.Context, missionID, brawlerID int64) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM crew_memberships WHERE mission_id=? AND brawler_id=?`, missionID, brawlerID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storeErr("is crew member", err)
	}
	return true, nil
}

// CrewRoster returns the mission's members for display, oldest join first.
func (r Repo) CrewRoster(ctx context.Context, missionID int64) ([]domain.CrewMember, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT b.id, b.username
FROM crew_memberships cm
JOIN brawlers b ON b.id = cm.brawler_id
WHERE cm.mission_id=?
ORDER BY cm.created_at ASC, b.id ASC`, missionID)
	if err != nil {
		return nil, storeErr("crew roster", err)
	}
	defer rows.Close()
	var res []domain.CrewMember
	for rows.Next() {
		var m domain.CrewMember
		if err := rows.Scan(&m.ID, &m.Username); err != nil {
			return nil, storeErr("scan crew member", err)
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("crew roster", err)
	}
	return res, nil
}
