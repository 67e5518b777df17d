package engine

import (
	"context"
	"strconv"

	"crewline/internal/events"
)

// JoinCrew admits a brawler to a mission's crew. Admission is a single
// conditional insert, so two racing calls for the last seat cannot both
// succeed.
func (e Engine) JoinCrew(ctx context.Context, missionID, brawlerID int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.AdmitCrewMember(ctx, tx, missionID, brawlerID, e.capacity(), e.nowString()); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "crew.joined", "mission", entityID(missionID), brawlerID, events.EventPayload{
		"brawler_id": strconv.FormatInt(brawlerID, 10),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// LeaveCrew removes a brawler from a mission's crew. Leaving stays possible
// after the mission is soft-deleted.
func (e Engine) LeaveCrew(ctx context.Context, missionID, brawlerID int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.ReleaseCrewMember(ctx, tx, missionID, brawlerID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "crew.left", "mission", entityID(missionID), brawlerID, events.EventPayload{
		"brawler_id": strconv.FormatInt(brawlerID, 10),
	}); err != nil {
		return err
	}
	return tx.Commit()
}
