//go:build integration

package quota

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/qbank-platform/qbank/internal/profiles"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "qbank_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	host, _ := pgContainer.Host(ctx)
	port, _ := pgContainer.MappedPort(ctx, "5432")
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/qbank_test?sslmode=disable", host, port.Port())

	m, err := migrate.New("file://../../../migrations", dsn)
	if err != nil {
		t.Fatalf("creating migrator: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func insertProfile(t *testing.T, pool *pgxpool.Pool, role profiles.Role, tier profiles.Tier, expires *time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO profiles (id, role, membership_tier, membership_expires_at) VALUES ($1, $2, $3, $4)`,
		id, string(role), string(tier), expires)
	require.NoError(t, err)
	return id
}

func TestPostgres_Engine(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()

	clock := NewFakeClock(t0)
	w := NewWindow(AnchorRollover)
	configs := NewConfigStore(pool)
	ledger := NewRepository(pool, w)
	engine := NewEngine(NewResolver(profiles.NewReader(pool), configs, clock), ledger, w, clock, nil)

	t.Run("seeded config matches defaults", func(t *testing.T) {
		cfg, err := configs.QuotaConfig(ctx)
		require.NoError(t, err)
		want := DefaultQuotaConfig()
		assert.Equal(t, want.Free, cfg.Free)
		assert.Equal(t, want.Basic, cfg.Basic)
		assert.Equal(t, want.Premium, cfg.Premium)
	})

	t.Run("dedup and limit", func(t *testing.T) {
		uid := insertProfile(t, pool, profiles.RoleUser, profiles.TierBasic, nil)
		_, err := configs.UpsertOverride(ctx, QuotaOverride{UserID: uid, AnswerQuota: ptr(2), Notes: "test"})
		require.NoError(t, err)

		res, err := engine.ConsumeAnswerQuota(ctx, uid, "q1")
		require.NoError(t, err)
		assert.Equal(t, CodeOK, res.Code)

		res, err = engine.ConsumeAnswerQuota(ctx, uid, "q1")
		require.NoError(t, err)
		assert.Equal(t, CodeAlreadyCounted, res.Code)

		res, err = engine.ConsumeAnswerQuota(ctx, uid, "q2")
		require.NoError(t, err)
		assert.Equal(t, 2, res.Used)

		res, err = engine.ConsumeAnswerQuota(ctx, uid, "q3")
		require.NoError(t, err)
		assert.Equal(t, CodeQuotaExceeded, res.Code)

		e, err := ledger.Get(ctx, uid, CategoryAnswer)
		require.NoError(t, err)
		assert.Equal(t, 2, e.Used)
		assert.ElementsMatch(t, []string{"q1", "q2"}, e.Items)
	})

	t.Run("no overshoot under concurrency", func(t *testing.T) {
		uid := insertProfile(t, pool, profiles.RoleUser, profiles.TierBasic, nil)
		_, err := configs.UpsertOverride(ctx, QuotaOverride{UserID: uid, PaperQuota: ptr(5)})
		require.NoError(t, err)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
		)
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := engine.ConsumePaperQuota(ctx, uid, "")
				if !assert.NoError(t, err) {
					return
				}
				if res.Success {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 5, accepted)
		e, err := ledger.Get(ctx, uid, CategoryPaper)
		require.NoError(t, err)
		assert.Equal(t, 5, e.Used)
	})

	t.Run("rollover", func(t *testing.T) {
		uid := insertProfile(t, pool, profiles.RoleUser, profiles.TierBasic, nil)
		_, err := engine.ConsumeAnswerQuota(ctx, uid, "q1")
		require.NoError(t, err)

		clock.Advance(6 * day)
		defer clock.Set(t0)

		res, err := engine.ConsumeAnswerQuota(ctx, uid, "q1")
		require.NoError(t, err)
		assert.Equal(t, CodeOK, res.Code)
		assert.Equal(t, 1, res.Used)
		assertTime(t, t0.Add(11*day), *res.ResetAt)
	})

	t.Run("override crud", func(t *testing.T) {
		uid := insertProfile(t, pool, profiles.RoleUser, profiles.TierBasic, nil)
		admin := insertProfile(t, pool, profiles.RoleAdmin, profiles.TierBasic, nil)

		first, err := configs.UpsertOverride(ctx, QuotaOverride{UserID: uid, PaperQuota: ptr(1), CreatedBy: &admin})
		require.NoError(t, err)
		second, err := configs.UpsertOverride(ctx, QuotaOverride{UserID: uid, AnswerQuota: ptr(9)})
		require.NoError(t, err)
		assert.Nil(t, second.PaperQuota)
		assert.Equal(t, 9, *second.AnswerQuota)
		assert.Equal(t, &admin, second.CreatedBy)
		assert.True(t, first.CreatedAt.Equal(second.CreatedAt))

		removed, err := configs.DeleteOverride(ctx, uid)
		require.NoError(t, err)
		assert.True(t, removed)

		ov, err := configs.QuotaOverride(ctx, uid)
		require.NoError(t, err)
		assert.Nil(t, ov)
	})

	t.Run("config update", func(t *testing.T) {
		admin := insertProfile(t, pool, profiles.RoleSuperAdmin, profiles.TierBasic, nil)
		cfg := DefaultQuotaConfig()
		cfg.Basic.Paper = Allowance{Quota: 12, PeriodDays: 4}

		updated, err := configs.UpdateQuotaConfig(ctx, cfg, admin)
		require.NoError(t, err)
		assert.Equal(t, cfg.Basic.Paper, updated.Basic.Paper)
		require.NotNil(t, updated.UpdatedBy)
		assert.Equal(t, admin, *updated.UpdatedBy)

		_, err = configs.UpdateQuotaConfig(ctx, DefaultQuotaConfig(), admin)
		require.NoError(t, err)
	})
}
