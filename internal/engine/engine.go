package engine

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"crewline/internal/config"
	"crewline/internal/domain"
	"crewline/internal/events"
	"crewline/internal/repo"
)

// DefaultCrewCapacity bounds how many brawlers may crew a single mission when
// the config does not say otherwise.
const DefaultCrewCapacity = 10

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	e := Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
	// events share the engine clock so audit timestamps line up with the
	// rows they describe
	e.Events = events.Writer{DB: db, Now: e.now}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) capacity() int {
	if e.Config != nil && e.Config.Crew.Capacity > 0 {
		return e.Config.Crew.Capacity
	}
	return DefaultCrewCapacity
}

func entityID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// MissionCreateOptions are parameters for creating a mission.
type MissionCreateOptions struct {
	ChiefID     int64
	Name        string
	Description string
}

func (e Engine) CreateMission(ctx context.Context, opts MissionCreateOptions) (domain.Mission, error) {
	if opts.Name == "" {
		return domain.Mission{}, errors.New("name is required")
	}
	now := e.nowString()
	m := domain.Mission{
		ChiefID:     opts.ChiefID,
		Name:        opts.Name,
		Description: opts.Description,
		Status:      domain.StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	id, err := e.Repo.InsertMission(ctx, tx, m)
	if err != nil {
		return domain.Mission{}, err
	}
	m.ID = id
	if err := e.Events.Append(ctx, tx, "mission.created", "mission", entityID(id), opts.ChiefID, events.EventPayload{
		"name":   m.Name,
		"status": m.Status,
	}); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return m, nil
}

// MissionEditOptions encapsulates allowed updates.
type MissionEditOptions struct {
	ID          int64
	ChiefID     int64
	Name        *string
	Description *string
}

func (e Engine) EditMission(ctx context.Context, opts MissionEditOptions) (domain.Mission, error) {
	m, err := e.Repo.GetMission(ctx, opts.ID)
	if err != nil {
		return domain.Mission{}, err
	}
	if m.ChiefID != opts.ChiefID {
		return domain.Mission{}, repo.ErrNotOwner
	}
	if opts.Name != nil && *opts.Name == "" {
		return domain.Mission{}, errors.New("name must not be empty")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateMissionFields(ctx, tx, opts.ID, opts.Name, opts.Description, e.nowString()); err != nil {
		return domain.Mission{}, err
	}
	if err := e.Events.Append(ctx, tx, "mission.edited", "mission", entityID(opts.ID), opts.ChiefID, nil); err != nil {
		return domain.Mission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	return e.Repo.GetMission(ctx, opts.ID)
}

// RemoveMission soft-deletes a mission. Only the chief may remove it. The
// mission disappears from reads and writes; its crew rows are retained so
// members can still leave.
func (e Engine) RemoveMission(ctx context.Context, missionID, chiefID int64) error {
	m, err := e.Repo.GetMission(ctx, missionID)
	if err != nil {
		return err
	}
	if m.ChiefID != chiefID {
		return repo.ErrNotOwner
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.SoftDeleteMission(ctx, tx, missionID, e.nowString()); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "mission.removed", "mission", entityID(missionID), chiefID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// GetMission returns a live mission with its derived crew count.
func (e Engine) GetMission(ctx context.Context, missionID int64) (domain.MissionWithCrew, error) {
	m, err := e.Repo.GetMission(ctx, missionID)
	if err != nil {
		return domain.MissionWithCrew{}, err
	}
	count, err := e.Repo.CountCrew(ctx, missionID)
	if err != nil {
		return domain.MissionWithCrew{}, err
	}
	return domain.MissionWithCrew{Mission: m, CrewCount: count}, nil
}

// ListMissions returns live missions matching the filter, newest first, each
// annotated with its crew count. A failed count for one mission degrades to
// zero instead of aborting the whole listing.
func (e Engine) ListMissions(ctx context.Context, f repo.MissionFilters) ([]domain.MissionWithCrew, error) {
	missions, err := e.Repo.ListMissions(ctx, f)
	if err != nil {
		return nil, err
	}
	res := make([]domain.MissionWithCrew, 0, len(missions))
	for _, m := range missions {
		count, err := e.Repo.CountCrew(ctx, m.ID)
		if err != nil {
			count = 0
		}
		res = append(res, domain.MissionWithCrew{Mission: m, CrewCount: count})
	}
	return res, nil
}

// CrewRoster returns the member list of a live mission.
func (e Engine) CrewRoster(ctx context.Context, missionID int64) ([]domain.CrewMember, error) {
	live, err := e.Repo.MissionLive(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, repo.ErrNotFound
	}
	return e.Repo.CrewRoster(ctx, missionID)
}
