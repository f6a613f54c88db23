// Integration tests for the game services, driven against a real
// PostgreSQL container. Docker-less environments skip them.
package service

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"button-hunt-bot/internal/model"
	"button-hunt-bot/internal/repository"
)

var testCircles = []string{"🔴", "🟠", "🟡", "🟢", "🔵", "🟣", "🟤", "⚫", "⚪"}

func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

type testEnv struct {
	players  *repository.PlayerRepository
	buttons  *repository.ButtonRepository
	sessions *repository.SessionRepository
	registry *Registry
	engine   *Engine
	admin    *Admin
}

const testAdminID int64 = 900

// setupServices creates a PostgreSQL container, applies the schema, seeds
// the slots and the session, and wires the full service stack.
func setupServices(t *testing.T) (*testEnv, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	for _, stmt := range []string{
		`CREATE TABLE players (
			telegram_id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL DEFAULT '',
			first_name VARCHAR(255) NOT NULL DEFAULT '',
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			alive BOOLEAN NOT NULL DEFAULT TRUE,
			eliminated_by BIGINT,
			button_number INT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE buttons (
			id BIGSERIAL PRIMARY KEY,
			number INT UNIQUE,
			circle VARCHAR(16) NOT NULL DEFAULT '',
			code VARCHAR(64),
			owner_id BIGINT,
			taken BOOLEAN NOT NULL DEFAULT FALSE,
			blocked BOOLEAN NOT NULL DEFAULT FALSE,
			code_used BOOLEAN NOT NULL DEFAULT FALSE,
			special BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX idx_buttons_live_code ON buttons(code) WHERE code IS NOT NULL AND NOT blocked`,
		`CREATE TABLE discoveries (
			player_id BIGINT NOT NULL,
			target_id BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (player_id, target_id)
		)`,
		`CREATE TABLE held_specials (
			player_id BIGINT NOT NULL,
			button_id BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (player_id, button_id)
		)`,
		`CREATE TABLE game_session (
			id SMALLINT PRIMARY KEY,
			phase VARCHAR(16) NOT NULL DEFAULT 'waiting',
			code_pool TEXT[] NOT NULL DEFAULT '{}',
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	} {
		_, err = pool.Exec(ctx, stmt)
		require.NoError(t, err)
	}

	players := repository.NewPlayerRepository(pool)
	buttons := repository.NewButtonRepository(pool)
	sessions := repository.NewSessionRepository(pool)

	require.NoError(t, buttons.Seed(ctx, testCircles))
	_, err = sessions.Ensure(ctx)
	require.NoError(t, err)

	adminIDs := []int64{testAdminID}
	env := &testEnv{
		players:  players,
		buttons:  buttons,
		sessions: sessions,
		registry: NewRegistry(players, buttons, sessions, adminIDs),
		engine:   NewEngine(players, buttons, sessions),
		admin:    NewAdmin(players, buttons, sessions, adminIDs),
	}
	require.NoError(t, env.admin.SyncAdmins(ctx))

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}
	return env, cleanup
}

// joinPlayers registers n non-admin players with ids 1..n.
func joinPlayers(t *testing.T, env *testEnv, n int) {
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		res, err := env.registry.Join(ctx, int64(i), "user", "User")
		require.NoError(t, err)
		require.True(t, res.Created)
		require.NotNil(t, res.Button)
	}
}

// startRound pools enough codes and starts the round as the admin.
func startRound(t *testing.T, env *testEnv, codes []string) *StartResult {
	ctx := context.Background()
	_, err := env.admin.AddCodes(ctx, testAdminID, codes)
	require.NoError(t, err)
	res, err := env.admin.Start(ctx, testAdminID)
	require.NoError(t, err)
	return res
}

// codeOf returns the code dealt to the given player's button.
func codeOf(t *testing.T, env *testEnv, playerID int64) string {
	b, err := env.buttons.GetByOwner(context.Background(), playerID)
	require.NoError(t, err)
	require.NotNil(t, b.Code)
	return *b.Code
}

func TestRegistry_Join(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()
	ctx := context.Background()

	res, err := env.registry.Join(ctx, 1, "alice", "Alice")
	require.NoError(t, err)
	assert.True(t, res.Created)
	require.NotNil(t, res.Button)
	require.NotNil(t, res.Button.Number)
	assert.Equal(t, 1, *res.Button.Number)

	// Re-join is a lookup, not a second claim
	res, err = env.registry.Join(ctx, 1, "alice", "Alice")
	require.NoError(t, err)
	assert.False(t, res.Created)

	// Admin joins take no slot
	res, err = env.registry.Join(ctx, testAdminID, "admin", "Admin")
	require.NoError(t, err)
	assert.Nil(t, res.Button)
}

func TestRegistry_JoinCapacity(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()
	ctx := context.Background()

	joinPlayers(t, env, len(testCircles))

	_, err := env.registry.Join(ctx, 999, "late", "Late")
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestRegistry_JoinWhileRunning(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()
	ctx := context.Background()

	joinPlayers(t, env, 2)
	startRound(t, env, []string{"A1", "B2"})

	_, err := env.registry.Join(ctx, 999, "late", "Late")
	assert.ErrorIs(t, err, ErrGameInProgress)
}

func TestAdmin_StartInsufficientCodes(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()
	ctx := context.Background()

	joinPlayers(t, env, 2)
	_, err := env.admin.AddCodes(ctx, testAdminID, []string{"ONLY"})
	require.NoError(t, err)

	_, err = env.admin.Start(ctx, testAdminID)
	assert.ErrorIs(t, err, ErrInsufficientCodes)

	s, err := env.sessions.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseWaiting, s.Phase, "failed start leaves the lobby untouched")
}

func TestAdmin_StartDealsCodes(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()
	ctx := context.Background()

	joinPlayers(t, env, 3)
	startRound(t, env, []string{"A1", "B2", "C3", "D4"})

	seen := make(map[string]bool)
	for id := int64(1); id <= 3; id++ {
		code := codeOf(t, env, id)
		assert.False(t, seen[code], "codes must be distinct")
		seen[code] = true
	}

	s, err := env.sessions.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseRunning, s.Phase)
	assert.Len(t, s.CodePool, 1, "undealt codes stay pooled")

	_, err = env.admin.Start(ctx, testAdminID)
	assert.ErrorIs(t, err, ErrGameInProgress)
}

func TestAdmin_AddCodesSkipsLiveButtonCodes(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()
	ctx := context.Background()

	// A code carried by a special button never re-enters the pool
	_, err := env.admin.AddSpecialButton(ctx, testAdminID, "ZZZZ")
	require.NoError(t, err)

	added, err := env.admin.AddCodes(ctx, testAdminID, []string{"zzzz", "QQQQ"})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	session, err := env.sessions.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"QQQQ"}, session.CodePool)

	// Start deals QQQQ, never a second ZZZZ; the special stays the only
	// button answering to its code
	joinPlayers(t, env, 1)
	_, err = env.admin.Start(ctx, testAdminID)
	require.NoError(t, err)
	assert.Equal(t, "QQQQ", codeOf(t, env, 1))

	found, err := env.buttons.FindActiveByCode(ctx, "ZZZZ")
	require.NoError(t, err)
	assert.True(t, found.Special)

	// A dealt code is refused the same way
	added, err = env.admin.AddCodes(ctx, testAdminID, []string{"QQQQ", "RRRR"})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	session, err = env.sessions.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"RRRR"}, session.CodePool)
}

func TestAdmin_StartKeepsRacingDiscoveries(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()
	ctx := context.Background()

	joinPlayers(t, env, 2)
	_, err := env.admin.AddSpecialButton(ctx, testAdminID, "ZZZZ")
	require.NoError(t, err)
	_, err = env.admin.AddCodes(ctx, testAdminID, []string{"A1", "B2"})
	require.NoError(t, err)

	// Hammer the special code across the phase flip; the first accepted
	// submission races the tail of Start
	done := make(chan error, 1)
	go func() {
		for {
			_, err := env.engine.TryDiscover(ctx, 1, "ZZZZ")
			if errors.Is(err, ErrGameNotRunning) {
				continue
			}
			done <- err
			return
		}
	}()

	_, err = env.admin.Start(ctx, testAdminID)
	require.NoError(t, err)
	require.NoError(t, <-done)

	// The hold accepted during the start race survives the round-start
	// sweep
	held, err := env.registry.HeldSpecials(ctx, 1)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, "ZZZZ", *held[0].Code)
}

func TestAdmin_NotAuthorized(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()
	ctx := context.Background()

	joinPlayers(t, env, 1)

	_, err := env.admin.Start(ctx, 1)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	_, err = env.admin.End(ctx, 1)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	_, err = env.admin.AddCodes(ctx, 1, []string{"X"})
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestEngine_TryDiscover(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()
	ctx := context.Background()

	joinPlayers(t, env, 3)
	startRound(t, env, []string{"A1", "B2", "C3"})

	target := codeOf(t, env, 2)

	// Case and whitespace are forgiven
	res, err := env.engine.TryDiscover(ctx, 1, "  "+target+"  ")
	require.NoError(t, err)
	require.NotNil(t, res.Target)
	assert.Equal(t, int64(2), res.Target.TelegramID)

	// The code is consumed; a second submitter sees nothing
	_, err = env.engine.TryDiscover(ctx, 3, target)
	assert.ErrorIs(t, err, ErrCodeNotFound)

	// The discovery itself persists
	opponents, err := env.registry.DiscoveredOpponents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, opponents, 1)
	assert.Equal(t, int64(2), opponents[0].TelegramID)
}

func TestEngine_TryDiscoverRejections(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()
	ctx := context.Background()

	joinPlayers(t, env, 2)

	// Before the round starts nothing is discoverable
	_, err := env.engine.TryDiscover(ctx, 1, "ANY")
	assert.ErrorIs(t, err, ErrGameNotRunning)

	startRound(t, env, []string{"A1", "B2"})

	own := codeOf(t, env, 1)
	_, err = env.engine.TryDiscover(ctx, 1, own)
	assert.ErrorIs(t, err, ErrSelfCodeRejected)

	_, err = env.engine.TryDiscover(ctx, 1, "NOPE")
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestEngine_TryDiscoverConcurrent(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()
	ctx := context.Background()

	joinPlayers(t, env, 5)
	startRound(t, env, []string{"A1", "B2", "C3", "D4", "E5"})

	target := codeOf(t, env, 5)

	// Players 1-4 race on player 5's code; exactly one wins
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for id := int64(1); id <= 4; id++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := env.engine.TryDiscover(ctx, id, target)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "a code is consumed by exactly one submitter")
}

func TestEngine_EliminateByDiscoverer(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()
	ctx := context.Background()

	joinPlayers(t, env, 4)
	startRound(t, env, []string{"A1", "B2", "C3", "D4"})

	// Player 3 holds leads on 2 and 4; player 1 discovered 3
	_, err := env.engine.TryDiscover(ctx, 3, codeOf(t, env, 2))
	require.NoError(t, err)
	_, err = env.engine.TryDiscover(ctx, 3, codeOf(t, env, 4))
	require.NoError(t, err)
	_, err = env.engine.TryDiscover(ctx, 1, codeOf(t, env, 3))
	require.NoError(t, err)

	res, err := env.engine.Eliminate(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Target.TelegramID)
	assert.False(t, res.Target.Alive)

	// The victim's leads flowed to the eliminator
	granted := res.Redistributed[1]
	ids := make([]int64, len(granted))
	for i, p := range granted {
		ids[i] = p.TelegramID
	}
	assert.ElementsMatch(t, []int64{2, 4}, ids)

	// The dead player's button is now blocked
	b, err := env.buttons.GetByOwner(ctx, 3)
	require.NoError(t, err)
	assert.True(t, b.Blocked)
	blocked, err := env.buttons.CodeBlocked(ctx, codeOf(t, env, 3))
	require.NoError(t, err)
	assert.True(t, blocked)

	// A second kick of the same target fails
	_, err = env.engine.Eliminate(ctx, 1, 3)
	assert.ErrorIs(t, err, ErrAlreadyEliminated)

	// Eliminated players cannot submit codes anymore
	_, err = env.engine.TryDiscover(ctx, 3, codeOf(t, env, 2))
	assert.ErrorIs(t, err, ErrPlayerEliminated)
}

func TestEngine_SelfEliminationRedistributes(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()
	ctx := context.Background()

	joinPlayers(t, env, 4)
	startRound(t, env, []string{"A1", "B2", "C3", "D4"})

	// Player 1 holds leads on 2 and 3, then kicks themselves
	_, err := env.engine.TryDiscover(ctx, 1, codeOf(t, env, 2))
	require.NoError(t, err)
	_, err = env.engine.TryDiscover(ctx, 1, codeOf(t, env, 3))
	require.NoError(t, err)

	res, err := env.engine.Eliminate(ctx, 1, 1)
	require.NoError(t, err)

	// Every lead survives, dealt to the remaining live players; nobody
	// is handed a lead pointing at themselves
	var total int
	for recipient, granted := range res.Redistributed {
		assert.NotEqual(t, int64(1), recipient)
		for _, lead := range granted {
			assert.NotEqual(t, recipient, lead.TelegramID)
		}
		total += len(granted)
	}
	assert.Equal(t, 2, total)
}

func TestEngine_EliminateConcurrent(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()
	ctx := context.Background()

	joinPlayers(t, env, 5)
	startRound(t, env, []string{"A1", "B2", "C3", "D4", "E5"})

	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for id := int64(1); id <= 4; id++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := env.engine.Eliminate(ctx, id, 5)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "a player is eliminated exactly once")
}

func TestEngine_SpecialFlow(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()
	ctx := context.Background()

	joinPlayers(t, env, 3)

	_, err := env.admin.AddSpecialButton(ctx, testAdminID, "bonus")
	require.NoError(t, err)

	// Codes collide with nothing already placed
	_, err = env.admin.AddSpecialButton(ctx, testAdminID, "BONUS")
	assert.ErrorIs(t, err, ErrDuplicateCode)

	startRound(t, env, []string{"A1", "B2", "C3"})

	res, err := env.engine.TryDiscover(ctx, 1, "bonus")
	require.NoError(t, err)
	require.NotNil(t, res.Special)
	assert.Nil(t, res.Target)

	held, err := env.registry.HeldSpecials(ctx, 1)
	require.NoError(t, err)
	require.Len(t, held, 1)

	// A second finder is too late
	_, err = env.engine.TryDiscover(ctx, 2, "BONUS")
	assert.ErrorIs(t, err, ErrCodeNotFound)

	use, err := env.engine.UseSpecial(ctx, 1, held[0].ID)
	require.NoError(t, err)
	assert.Len(t, use.Assignments, 3, "every live slot gets an owner after a reshuffle")

	// One owner per slot, every player still bound
	seenPlayers := make(map[int64]bool)
	seenNumbers := make(map[int]bool)
	for _, a := range use.Assignments {
		assert.False(t, seenPlayers[a.PlayerID])
		assert.False(t, seenNumbers[a.Number])
		seenPlayers[a.PlayerID] = true
		seenNumbers[a.Number] = true
	}

	// One-shot: a second activation fails
	_, err = env.engine.UseSpecial(ctx, 1, held[0].ID)
	assert.ErrorIs(t, err, ErrSpecialNotHeld)

	held, err = env.registry.HeldSpecials(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestAdmin_EndReleasesEverything(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()
	ctx := context.Background()

	joinPlayers(t, env, 3)
	startRound(t, env, []string{"A1", "B2", "C3"})
	_, err := env.engine.TryDiscover(ctx, 1, codeOf(t, env, 2))
	require.NoError(t, err)

	notified, err := env.admin.End(ctx, testAdminID)
	require.NoError(t, err)
	assert.Len(t, notified, 3)

	s, err := env.sessions.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseEnded, s.Phase)

	// Codes gone, discoveries gone, submissions dead
	opponents, err := env.registry.DiscoveredOpponents(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, opponents)
	_, err = env.engine.TryDiscover(ctx, 1, "A1")
	assert.ErrorIs(t, err, ErrGameNotRunning)

	// Double end fails
	_, err = env.admin.End(ctx, testAdminID)
	assert.ErrorIs(t, err, ErrGameNotRunning)
}

func TestAdmin_ResetPurgesLobby(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()
	ctx := context.Background()

	joinPlayers(t, env, 3)
	startRound(t, env, []string{"A1", "B2", "C3"})

	purged, err := env.admin.Reset(ctx, testAdminID)
	require.NoError(t, err)
	assert.Len(t, purged, 3)

	s, err := env.sessions.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseWaiting, s.Phase)
	assert.Empty(t, s.CodePool)

	// Old players are gone, the lobby accepts fresh joins
	_, err = env.players.GetByID(ctx, 1)
	assert.ErrorIs(t, err, repository.ErrPlayerNotFound)
	res, err := env.registry.Join(ctx, 50, "fresh", "Fresh")
	require.NoError(t, err)
	assert.True(t, res.Created)
	require.NotNil(t, res.Button.Number)
	assert.Equal(t, 1, *res.Button.Number, "slots are free again")

	// Admins survive the purge
	admin, err := env.players.GetByID(ctx, testAdminID)
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin)
}

func TestAdmin_RestartAfterEnd(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()
	ctx := context.Background()

	joinPlayers(t, env, 2)
	startRound(t, env, []string{"A1", "B2"})
	_, err := env.engine.TryDiscover(ctx, 1, codeOf(t, env, 2))
	require.NoError(t, err)
	_, err = env.admin.End(ctx, testAdminID)
	require.NoError(t, err)

	// A new round needs a reset back to waiting first
	_, err = env.admin.AddCodes(ctx, testAdminID, []string{"X1", "Y2"})
	require.NoError(t, err)
	_, err = env.admin.Start(ctx, testAdminID)
	assert.ErrorIs(t, err, ErrGameInProgress)

	_, err = env.admin.Reset(ctx, testAdminID)
	require.NoError(t, err)

	joinPlayers(t, env, 2)
	startRound(t, env, []string{"X1", "Y2"})

	// Fresh round: discoveries from the last one are gone
	opponents, err := env.registry.DiscoveredOpponents(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, opponents)
}

func TestAdmin_ShufflePairs(t *testing.T) {
	env, cleanup := setupServices(t)
	defer cleanup()
	ctx := context.Background()

	before, err := env.admin.ListButtons(ctx, testAdminID)
	require.NoError(t, err)

	after, err := env.admin.ShufflePairs(ctx, testAdminID)
	require.NoError(t, err)
	require.Len(t, after, len(before))

	counts := make(map[string]int)
	for _, b := range before {
		counts[b.Circle]++
	}
	for _, b := range after {
		counts[b.Circle]--
	}
	for circle, c := range counts {
		assert.Zero(t, c, "circle %s unbalanced", circle)
	}
}
