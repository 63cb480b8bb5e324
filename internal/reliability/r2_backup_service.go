// Package reliability keeps the service's local state safe: periodic
// maintenance of the history database and offsite backups.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	archivePrefix    = "ledgerbeat-backup-"
	archiveSuffix    = ".tar.gz"
	archiveTimestamp = "2006-01-02-150405"
	metadataFile     = "backup-metadata.json"
)

// Snapshotter produces a consistent copy of a database.
type Snapshotter interface {
	Name() string
	Snapshot(ctx context.Context, dest string) error
}

// BackupMetadata is written next to the snapshot inside each archive.
type BackupMetadata struct {
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
}

// BackupInfo describes an archive stored remotely.
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
}

// R2BackupService snapshots a database and ships it to object storage.
type R2BackupService struct {
	store      ObjectStore
	db         Snapshotter
	stagingDir string
	prefix     string
	now        func() time.Time
	log        zerolog.Logger
}

// NewR2BackupService creates a backup service. Archives are staged under
// stagingDir and stored under prefix in the bucket.
func NewR2BackupService(store ObjectStore, db Snapshotter, stagingDir, prefix string, log zerolog.Logger) *R2BackupService {
	return &R2BackupService{
		store:      store,
		db:         db,
		stagingDir: stagingDir,
		prefix:     prefix,
		now:        time.Now,
		log:        log.With().Str("service", "r2_backup").Logger(),
	}
}

// CreateAndUploadBackup snapshots the database, archives it with its
// metadata and uploads the archive. It returns the stored object key.
func (s *R2BackupService) CreateAndUploadBackup(ctx context.Context) (string, error) {
	started := s.now()
	s.log.Info().Str("database", s.db.Name()).Msg("Starting backup")

	if err := os.MkdirAll(s.stagingDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	staging, err := os.MkdirTemp(s.stagingDir, "backup-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	dbFile := s.db.Name() + ".db"
	dbPath := filepath.Join(staging, dbFile)
	if err := s.db.Snapshot(ctx, dbPath); err != nil {
		return "", err
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat snapshot: %w", err)
	}
	checksum, err := fileChecksum(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to checksum snapshot: %w", err)
	}

	metadata := BackupMetadata{
		Timestamp: started.UTC(),
		Database:  s.db.Name(),
		Filename:  dbFile,
		SizeBytes: info.Size(),
		Checksum:  checksum,
	}
	if err := writeJSON(filepath.Join(staging, metadataFile), metadata); err != nil {
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}

	key := s.prefix + archivePrefix + started.UTC().Format(archiveTimestamp) + archiveSuffix
	archivePath := filepath.Join(staging, filepath.Base(key))
	if err := createArchive(archivePath, staging, []string{dbFile, metadataFile}); err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	if err := s.store.Upload(ctx, key, archive); err != nil {
		return "", err
	}

	s.log.Info().
		Str("key", key).
		Int64("size_bytes", info.Size()).
		Dur("duration", s.now().Sub(started)).
		Msg("Backup uploaded")
	return key, nil
}

// ListBackups returns stored archives, newest first. Objects whose name does
// not carry a parseable timestamp are skipped.
func (s *R2BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, s.prefix+archivePrefix)
	if err != nil {
		return nil, err
	}

	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, s.prefix)
		if !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, archiveSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, archivePrefix), archiveSuffix)
		ts, err := time.Parse(archiveTimestamp, stamp)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Skipping backup with unparseable timestamp")
			continue
		}
		backups = append(backups, BackupInfo{Key: obj.Key, Timestamp: ts, SizeBytes: obj.Size})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateOldBackups deletes all but the newest keep archives and returns how
// many were removed. A failed delete is logged and skipped.
func (s *R2BackupService) RotateOldBackups(ctx context.Context, keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("keep must be at least 1, got %d", keep)
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= keep {
		return 0, nil
	}

	deleted := 0
	for _, b := range backups[keep:] {
		if err := s.store.Delete(ctx, b.Key); err != nil {
			s.log.Error().Err(err).Str("key", b.Key).Msg("Failed to delete old backup")
			continue
		}
		s.log.Info().Str("key", b.Key).Time("timestamp", b.Timestamp).Msg("Deleted old backup")
		deleted++
	}
	return deleted, nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// createArchive writes names from dir into a tar.gz at path.
func createArchive(path, dir string, names []string) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	for _, name := range names {
		if err := addToArchive(tw, filepath.Join(dir, name), name); err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addToArchive(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	if err := tw.WriteHeader(&tar.Header{
		Name:    name,
		Size:    info.Size(),
		Mode:    int64(info.Mode().Perm()),
		ModTime: info.ModTime(),
	}); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
