package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPruner struct {
	cutoff time.Time
	calls  int
	err    error
}

func (m *mockPruner) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.calls++
	m.cutoff = cutoff
	return 3, m.err
}

type mockMaintainedDB struct {
	healthErr     error
	checkpointErr error
	checkpoints   int
}

func (m *mockMaintainedDB) HealthCheck(ctx context.Context) error {
	return m.healthErr
}

func (m *mockMaintainedDB) WALCheckpoint(ctx context.Context) error {
	m.checkpoints++
	return m.checkpointErr
}

func TestHistoryMaintenanceJob_Run(t *testing.T) {
	now := time.Date(2026, 5, 10, 3, 30, 0, 0, time.UTC)
	pruner := &mockPruner{}
	db := &mockMaintainedDB{checkpointErr: errors.New("busy")}

	job := NewHistoryMaintenanceJob(pruner, db, 30, t.TempDir(), zerolog.Nop())
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run())
	assert.Equal(t, "history_maintenance", job.Name())
	assert.Equal(t, 1, pruner.calls)
	assert.Equal(t, now.AddDate(0, 0, -30), pruner.cutoff)
	assert.Equal(t, 1, db.checkpoints, "checkpoint failure is not fatal")
}

func TestHistoryMaintenanceJob_RetentionDisabled(t *testing.T) {
	pruner := &mockPruner{}
	job := NewHistoryMaintenanceJob(pruner, &mockMaintainedDB{}, 0, "", zerolog.Nop())

	require.NoError(t, job.Run())
	assert.Zero(t, pruner.calls)
}

func TestHistoryMaintenanceJob_Failures(t *testing.T) {
	tests := []struct {
		name   string
		pruner *mockPruner
		db     *mockMaintainedDB
	}{
		{"unhealthy database", &mockPruner{}, &mockMaintainedDB{healthErr: errors.New("corrupt")}},
		{"prune error", &mockPruner{err: fmt.Errorf("locked")}, &mockMaintainedDB{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewHistoryMaintenanceJob(tt.pruner, tt.db, 7, "", zerolog.Nop())
			assert.Error(t, job.Run())
		})
	}
}

func TestBackupJob_Run(t *testing.T) {
	store := newMemoryObjectStore()
	svc := NewR2BackupService(store, setupHistoryDB(t), t.TempDir(), "", zerolog.Nop())

	for i := 0; i < 3; i++ {
		ts := time.Date(2026, 3, 1+i, 0, 0, 0, 0, time.UTC)
		svc.now = func() time.Time { return ts }
		job := NewBackupJob(svc, 2, zerolog.Nop())
		require.NoError(t, job.Run())
		assert.Equal(t, "r2_backup", job.Name())
	}

	assert.Equal(t, []string{
		"ledgerbeat-backup-2026-03-02-000000.tar.gz",
		"ledgerbeat-backup-2026-03-03-000000.tar.gz",
	}, store.keys())
}

func TestBackupJob_UploadFailure(t *testing.T) {
	store := newMemoryObjectStore()
	store.uploadErr = errors.New("offline")
	svc := NewR2BackupService(store, setupHistoryDB(t), t.TempDir(), "", zerolog.Nop())

	assert.Error(t, NewBackupJob(svc, 2, zerolog.Nop()).Run())
}
