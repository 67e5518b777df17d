package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"crewline/internal/config"
	"crewline/internal/db"
	"crewline/internal/domain"
	"crewline/internal/engine"
	"crewline/internal/migrate"
	"crewline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	// monotonic clock so created_at ordering is deterministic
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	var tick int
	eng.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	eng.Events.Now = eng.Now
	return testEnv{Engine: eng, Ctx: ctx}
}

func newBrawler(t *testing.T, env testEnv, username string) int64 {
	t.Helper()
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	id, err := env.Engine.Repo.InsertBrawler(env.Ctx, tx, domain.Brawler{
		Username:     username,
		PasswordHash: "x",
		CreatedAt:    "2024-01-01T00:00:00Z",
	})
	if err != nil {
		tx.Rollback()
		t.Fatalf("insert brawler %s: %v", username, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit brawler %s: %v", username, err)
	}
	return id
}

func newMission(t *testing.T, env testEnv, chiefID int64, name string) domain.Mission {
	t.Helper()
	m, err := env.Engine.CreateMission(env.Ctx, engine.MissionCreateOptions{ChiefID: chiefID, Name: name})
	if err != nil {
		t.Fatalf("create mission %s: %v", name, err)
	}
	return m
}

func TestMissionLifecycleTransitions(t *testing.T) {
	env := newTestEnv(t)
	chief := newBrawler(t, env, "chief")
	m := newMission(t, env, chief, "raid")
	if m.Status != domain.StatusOpen {
		t.Fatalf("new mission status = %s, want Open", m.Status)
	}
	// Open -> Completed is not allowed
	if _, err := env.Engine.CompleteMission(env.Ctx, m.ID, chief); !errors.Is(err, repo.ErrIllegalTransition) {
		t.Fatalf("complete from Open: %v, want illegal transition", err)
	}
	if _, err := env.Engine.FailMission(env.Ctx, m.ID, chief); !errors.Is(err, repo.ErrIllegalTransition) {
		t.Fatalf("fail from Open: %v, want illegal transition", err)
	}
	if _, err := env.Engine.StartMission(env.Ctx, m.ID, chief); err != nil {
		t.Fatalf("start: %v", err)
	}
	// starting twice is illegal
	if _, err := env.Engine.StartMission(env.Ctx, m.ID, chief); !errors.Is(err, repo.ErrIllegalTransition) {
		t.Fatalf("second start: %v, want illegal transition", err)
	}
	if _, err := env.Engine.CompleteMission(env.Ctx, m.ID, chief); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// Completed is terminal
	if _, err := env.Engine.FailMission(env.Ctx, m.ID, chief); !errors.Is(err, repo.ErrIllegalTransition) {
		t.Fatalf("fail after complete: %v, want illegal transition", err)
	}
	got, err := env.Engine.GetMission(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusCompleted {
		t.Fatalf("final status = %s, want Completed", got.Status)
	}
}

func TestMissionFailPath(t *testing.T) {
	env := newTestEnv(t)
	chief := newBrawler(t, env, "chief")
	m := newMission(t, env, chief, "doomed")
	if _, err := env.Engine.StartMission(env.Ctx, m.ID, chief); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.Engine.FailMission(env.Ctx, m.ID, chief); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if _, err := env.Engine.StartMission(env.Ctx, m.ID, chief); !errors.Is(err, repo.ErrIllegalTransition) {
		t.Fatalf("start after fail: %v, want illegal transition", err)
	}
}

func TestMissionOwnership(t *testing.T) {
	env := newTestEnv(t)
	chief := newBrawler(t, env, "chief")
	stranger := newBrawler(t, env, "stranger")
	m := newMission(t, env, chief, "guarded")

	if _, err := env.Engine.StartMission(env.Ctx, m.ID, stranger); !errors.Is(err, repo.ErrNotOwner) {
		t.Fatalf("stranger start: %v, want not owner", err)
	}
	name := "renamed"
	if _, err := env.Engine.EditMission(env.Ctx, engine.MissionEditOptions{ID: m.ID, ChiefID: stranger, Name: &name}); !errors.Is(err, repo.ErrNotOwner) {
		t.Fatalf("stranger edit: %v, want not owner", err)
	}
	if err := env.Engine.RemoveMission(env.Ctx, m.ID, stranger); !errors.Is(err, repo.ErrNotOwner) {
		t.Fatalf("stranger remove: %v, want not owner", err)
	}
	// the chief may do all of it
	if _, err := env.Engine.EditMission(env.Ctx, engine.MissionEditOptions{ID: m.ID, ChiefID: chief, Name: &name}); err != nil {
		t.Fatalf("chief edit: %v", err)
	}
	if err := env.Engine.RemoveMission(env.Ctx, m.ID, chief); err != nil {
		t.Fatalf("chief remove: %v", err)
	}
}

func TestCrewCapacity(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Crew.Capacity = 3
	chief := newBrawler(t, env, "chief")
	m := newMission(t, env, chief, "small-boat")

	var members []int64
	for i := 0; i < 3; i++ {
		id := newBrawler(t, env, fmt.Sprintf("b%d", i))
		if err := env.Engine.JoinCrew(env.Ctx, m.ID, id); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
		members = append(members, id)
	}
	late := newBrawler(t, env, "late")
	if err := env.Engine.JoinCrew(env.Ctx, m.ID, late); !errors.Is(err, repo.ErrCapacityExceeded) {
		t.Fatalf("join when full: %v, want capacity exceeded", err)
	}
	// a member joining again is reported as already-member, not capacity
	if err := env.Engine.JoinCrew(env.Ctx, m.ID, members[0]); !errors.Is(err, repo.ErrAlreadyMember) {
		t.Fatalf("double join: %v, want already member", err)
	}
	// leaving frees a seat, and the same brawler may rejoin
	if err := env.Engine.LeaveCrew(env.Ctx, m.ID, members[0]); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := env.Engine.JoinCrew(env.Ctx, m.ID, members[0]); err != nil {
		t.Fatalf("rejoin after leave: %v", err)
	}
	if err := env.Engine.LeaveCrew(env.Ctx, m.ID, members[0]); err != nil {
		t.Fatalf("leave again: %v", err)
	}
	if err := env.Engine.JoinCrew(env.Ctx, m.ID, late); err != nil {
		t.Fatalf("join after leave: %v", err)
	}
	if err := env.Engine.LeaveCrew(env.Ctx, m.ID, members[0]); !errors.Is(err, repo.ErrNotAMember) {
		t.Fatalf("leave twice: %v, want not a member", err)
	}
	got, err := env.Engine.GetMission(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CrewCount != 3 {
		t.Fatalf("crew count = %d, want 3", got.CrewCount)
	}
}

func TestConcurrentJoinsNeverOverfill(t *testing.T) {
	env := newTestEnv(t)
	chief := newBrawler(t, env, "chief")
	m := newMission(t, env, chief, "popular")

	const attempts = 15
	ids := make([]int64, attempts)
	for i := range ids {
		ids[i] = newBrawler(t, env, fmt.Sprintf("b%d", i))
	}
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = env.Engine.JoinCrew(env.Ctx, m.ID, ids[i])
		}(i)
	}
	wg.Wait()

	admitted, rejected := 0, 0
	for i, err := range errs {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, repo.ErrCapacityExceeded):
			rejected++
		default:
			t.Fatalf("join %d: unexpected error %v", i, err)
		}
	}
	if admitted != 10 || rejected != 5 {
		t.Fatalf("admitted=%d rejected=%d, want 10/5", admitted, rejected)
	}
	count, err := env.Engine.Repo.CountCrew(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 10 {
		t.Fatalf("stored crew count = %d, want 10", count)
	}
}

func TestConcurrentStartOneWinner(t *testing.T) {
	env := newTestEnv(t)
	chief := newBrawler(t, env, "chief")
	m := newMission(t, env, chief, "contested")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.StartMission(env.Ctx, m.ID, chief)
		}(i)
	}
	wg.Wait()

	ok, failed := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, repo.ErrConcurrentModification) || errors.Is(err, repo.ErrIllegalTransition):
			failed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || failed != 1 {
		t.Fatalf("ok=%d failed=%d, want exactly one winner", ok, failed)
	}
	got, err := env.Engine.GetMission(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusInProgress {
		t.Fatalf("status = %s, want InProgress", got.Status)
	}
}

func TestSoftDeleteSemantics(t *testing.T) {
	env := newTestEnv(t)
	chief := newBrawler(t, env, "chief")
	member := newBrawler(t, env, "member")
	m := newMission(t, env, chief, "ghost-ship")
	if err := env.Engine.JoinCrew(env.Ctx, m.ID, member); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := env.Engine.RemoveMission(env.Ctx, m.ID, chief); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := env.Engine.GetMission(env.Ctx, m.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("get after remove: %v, want not found", err)
	}
	if _, err := env.Engine.StartMission(env.Ctx, m.ID, chief); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("start after remove: %v, want not found", err)
	}
	late := newBrawler(t, env, "late")
	if err := env.Engine.JoinCrew(env.Ctx, m.ID, late); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("join after remove: %v, want not found", err)
	}
	// existing members may still leave
	if err := env.Engine.LeaveCrew(env.Ctx, m.ID, member); err != nil {
		t.Fatalf("leave after remove: %v", err)
	}
	list, err := env.Engine.ListMissions(env.Ctx, repo.MissionFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, got := range list {
		if got.ID == m.ID {
			t.Fatalf("removed mission still listed")
		}
	}
}

func TestListMissionsFilters(t *testing.T) {
	env := newTestEnv(t)
	chief := newBrawler(t, env, "chief")
	a := newMission(t, env, chief, "gold run")
	b := newMission(t, env, chief, "silver run")
	c := newMission(t, env, chief, "gold rush")
	if _, err := env.Engine.StartMission(env.Ctx, c.ID, chief); err != nil {
		t.Fatalf("start: %v", err)
	}

	list, err := env.Engine.ListMissions(env.Ctx, repo.MissionFilters{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("list all = %d missions, want 3", len(list))
	}
	// newest first
	if list[0].ID != c.ID || list[1].ID != b.ID || list[2].ID != a.ID {
		t.Fatalf("list order = [%d %d %d], want newest first", list[0].ID, list[1].ID, list[2].ID)
	}

	list, err = env.Engine.ListMissions(env.Ctx, repo.MissionFilters{Name: "gold"})
	if err != nil {
		t.Fatalf("list by name: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("name filter = %d missions, want 2", len(list))
	}

	list, err = env.Engine.ListMissions(env.Ctx, repo.MissionFilters{Status: domain.StatusOpen})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("status filter = %d missions, want 2", len(list))
	}

	list, err = env.Engine.ListMissions(env.Ctx, repo.MissionFilters{Status: domain.StatusInProgress, Name: "rush"})
	if err != nil {
		t.Fatalf("list combined: %v", err)
	}
	if len(list) != 1 || list[0].ID != c.ID {
		t.Fatalf("combined filter did not isolate mission %d", c.ID)
	}
}

func TestCrewRoster(t *testing.T) {
	env := newTestEnv(t)
	chief := newBrawler(t, env, "chief")
	m := newMission(t, env, chief, "crewed")
	first := newBrawler(t, env, "first")
	second := newBrawler(t, env, "second")
	if err := env.Engine.JoinCrew(env.Ctx, m.ID, first); err != nil {
		t.Fatalf("join first: %v", err)
	}
	if err := env.Engine.JoinCrew(env.Ctx, m.ID, second); err != nil {
		t.Fatalf("join second: %v", err)
	}
	roster, err := env.Engine.CrewRoster(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("roster size = %d, want 2", len(roster))
	}
	if roster[0].Username != "first" || roster[1].Username != "second" {
		t.Fatalf("roster order = %s,%s", roster[0].Username, roster[1].Username)
	}
	if _, err := env.Engine.CrewRoster(env.Ctx, 9999); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("roster of missing mission: %v, want not found", err)
	}
}

func TestJoinUnknownMission(t *testing.T) {
	env := newTestEnv(t)
	b := newBrawler(t, env, "lost")
	if err := env.Engine.JoinCrew(env.Ctx, 424242, b); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("join unknown mission: %v, want not found", err)
	}
}

func TestRegisterAndAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	b, err := env.Engine.RegisterBrawler(env.Ctx, "colt", "secret-pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if b.ID == 0 || b.PasswordHash != "" {
		t.Fatalf("register returned id=%d hash=%q", b.ID, b.PasswordHash)
	}
	if _, err := env.Engine.RegisterBrawler(env.Ctx, "colt", "other"); !errors.Is(err, repo.ErrUsernameTaken) {
		t.Fatalf("duplicate register: %v, want username taken", err)
	}
	got, err := env.Engine.Authenticate(env.Ctx, "colt", "secret-pw")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != b.ID {
		t.Fatalf("authenticate id = %d, want %d", got.ID, b.ID)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "colt", "wrong"); !errors.Is(err, engine.ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v, want invalid credentials", err)
	}
	if _, err := env.Engine.Authenticate(env.Ctx, "nobody", "x"); !errors.Is(err, engine.ErrInvalidCredentials) {
		t.Fatalf("unknown user: %v, want invalid credentials", err)
	}
}

func TestListMissionsToleratesCountFailures(t *testing.T) {
	env := newTestEnv(t)
	chief := newBrawler(t, env, "chief")
	newMission(t, env, chief, "alpha")
	newMission(t, env, chief, "beta")
	// losing the membership table must not abort the listing
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `DROP TABLE crew_memberships`); err != nil {
		t.Fatalf("drop crew_memberships: %v", err)
	}
	list, err := env.Engine.ListMissions(env.Ctx, repo.MissionFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list returned %d missions, want 2", len(list))
	}
	for _, m := range list {
		if m.CrewCount != 0 {
			t.Fatalf("mission %d crew count = %d, want 0", m.ID, m.CrewCount)
		}
	}
}

func TestAuditEventsUseEngineClock(t *testing.T) {
	env := newTestEnv(t)
	b, err := env.Engine.RegisterBrawler(env.Ctx, "poco", "secret-pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	newMission(t, env, b.ID, "harmony")
	for _, evtType := range []string{"brawler.registered", "mission.created"} {
		evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 1, evtType, "", "")
		if err != nil {
			t.Fatalf("latest %s: %v", evtType, err)
		}
		if len(evts) != 1 {
			t.Fatalf("latest %s returned %d events, want 1", evtType, len(evts))
		}
		if !strings.HasPrefix(evts[0].TS, "2024-01-01T") {
			t.Fatalf("%s ts = %q, want the test clock", evtType, evts[0].TS)
		}
	}
}
