package engine

import (
	"context"
	"fmt"

	"crewline/internal/domain"
	"crewline/internal/events"
	"crewline/internal/repo"
)

// ensureMissionTransition enforces the mission lifecycle: Open -> InProgress,
// InProgress -> Completed or Failed. Completed and Failed are terminal.
func ensureMissionTransition(from, to string) error {
	switch from {
	case domain.StatusOpen:
		if to == domain.StatusInProgress {
			return nil
		}
	case domain.StatusInProgress:
		if to == domain.StatusCompleted || to == domain.StatusFailed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", repo.ErrIllegalTransition, from, to)
}

// StartMission moves an Open mission to InProgress. Only the chief may do so.
func (e Engine) StartMission(ctx context.Context, missionID, chiefID int64) (int64, error) {
	return e.setMissionStatus(ctx, missionID, chiefID, domain.StatusInProgress, "mission.started")
}

// CompleteMission moves an InProgress mission to Completed.
func (e Engine) CompleteMission(ctx context.Context, missionID, chiefID int64) (int64, error) {
	return e.setMissionStatus(ctx, missionID, chiefID, domain.StatusCompleted, "mission.completed")
}

// FailMission moves an InProgress mission to Failed.
func (e Engine) FailMission(ctx context.Context, missionID, chiefID int64) (int64, error) {
	return e.setMissionStatus(ctx, missionID, chiefID, domain.StatusFailed, "mission.failed")
}

// setMissionStatus performs an optimistic status write. The pre-read is only
// advisory: the UPDATE itself is conditioned on the expected prior status, so
// a concurrent writer that gets there first turns this call into
// ErrConcurrentModification rather than a double transition.
func (e Engine) setMissionStatus(ctx context.Context, missionID, chiefID int64, to, evtType string) (int64, error) {
	m, err := e.Repo.GetMission(ctx, missionID)
	if err != nil {
		return 0, err
	}
	if m.ChiefID != chiefID {
		return 0, repo.ErrNotOwner
	}
	if err := ensureMissionTransition(m.Status, to); err != nil {
		return 0, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateMissionStatus(ctx, tx, missionID, m.Status, to, e.nowString()); err != nil {
		return 0, err
	}
	if err := e.Events.Append(ctx, tx, evtType, "mission", entityID(missionID), chiefID, events.EventPayload{
		"from": m.Status,
		"to":   to,
	}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return missionID, nil
}
