package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideastake/ledgerbeat/internal/database"
	"github.com/ideastake/ledgerbeat/internal/heartbeat"
	"github.com/ideastake/ledgerbeat/internal/ledger"
)

func setupRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
		Name: "history",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	return NewRepository(db.Conn(), zerolog.Nop())
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func attempt(minute int, source heartbeat.Source, txID string, err error) heartbeat.Attempt {
	return heartbeat.Attempt{
		Source:        source,
		Endpoint:      "https://api.devnet.solana.com",
		StartedAt:     base.Add(time.Duration(minute) * time.Minute),
		Duration:      1500 * time.Millisecond,
		TransactionID: txID,
		Err:           err,
	}
}

func TestRecordAndRecent(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Record(ctx, attempt(0, heartbeat.SourceTick, "sig1", nil)))
	failure := fmt.Errorf("%w: airdrop request failed: %w", ledger.ErrFunding, errors.New("faucet dry"))
	require.NoError(t, repo.Record(ctx, attempt(1, heartbeat.SourceManual, "", failure)))

	entries, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	newest := entries[0]
	assert.Equal(t, "manual", newest.Source)
	assert.False(t, newest.Success)
	assert.Equal(t, "funding", newest.ErrorKind)
	assert.Contains(t, newest.ErrorMessage, "faucet dry")
	assert.Empty(t, newest.TransactionID)
	assert.Equal(t, base.Add(time.Minute), newest.StartedAt)

	oldest := entries[1]
	assert.Equal(t, "tick", oldest.Source)
	assert.True(t, oldest.Success)
	assert.Equal(t, "sig1", oldest.TransactionID)
	assert.Equal(t, int64(1500), oldest.DurationMs)
	assert.NotEmpty(t, oldest.ID)
	assert.NotEqual(t, oldest.ID, newest.ID)
}

func TestRecent_Limits(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Record(ctx, attempt(i, heartbeat.SourceTick, fmt.Sprintf("sig%d", i), nil)))
	}

	entries, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "sig4", entries[0].TransactionID)
	assert.Equal(t, "sig3", entries[1].TransactionID)

	entries, err = repo.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestStats(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Nil(t, stats.LastSuccessAt)
	assert.Empty(t, stats.FailuresByKind)

	require.NoError(t, repo.Record(ctx, attempt(0, heartbeat.SourceTick, "sig1", nil)))
	require.NoError(t, repo.Record(ctx, attempt(1, heartbeat.SourceTick, "", fmt.Errorf("%w: x", ledger.ErrNetwork))))
	require.NoError(t, repo.Record(ctx, attempt(2, heartbeat.SourceTick, "", fmt.Errorf("%w: y", ledger.ErrNetwork))))
	require.NoError(t, repo.Record(ctx, attempt(3, heartbeat.SourceManual, "", errors.New("plain"))))

	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(1), stats.Succeeded)
	assert.Equal(t, int64(3), stats.Failed)
	require.NotNil(t, stats.LastSuccessAt)
	assert.Equal(t, base, *stats.LastSuccessAt)
	require.NotNil(t, stats.LastFailureAt)
	assert.Equal(t, base.Add(3*time.Minute), *stats.LastFailureAt)
	assert.Equal(t, map[string]int64{"network": 2, "unknown": 1}, stats.FailuresByKind)
}

func TestPruneOlderThan(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, repo.Record(ctx, attempt(i*60, heartbeat.SourceTick, fmt.Sprintf("sig%d", i), nil)))
	}

	deleted, err := repo.PruneOlderThan(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	entries, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "sig3", entries[0].TransactionID)
	assert.Equal(t, "sig2", entries[1].TransactionID)

	deleted, err = repo.PruneOlderThan(ctx, base)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestRepository_AsSupervisorRecorder(t *testing.T) {
	repo := setupRepository(t)

	op := heartbeat.OperationFunc(func(ctx context.Context, endpoint string) (string, error) {
		return "manual-sig", nil
	})
	sup, err := heartbeat.New(heartbeat.ScheduleConfig{IntervalSeconds: 30, Endpoint: "http://node"}, op,
		zerolog.Nop(), heartbeat.WithRecorder(repo))
	require.NoError(t, err)

	_, err = sup.TriggerNow(context.Background())
	require.NoError(t, err)

	entries, err := repo.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "manual", entries[0].Source)
	assert.Equal(t, "http://node", entries[0].Endpoint)
	assert.Equal(t, "manual-sig", entries[0].TransactionID)
}
