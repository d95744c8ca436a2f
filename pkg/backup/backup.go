package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/msrv-digital/cachepilot/pkg/config"
	"github.com/msrv-digital/cachepilot/pkg/events"
	"github.com/msrv-digital/cachepilot/pkg/log"
	"github.com/msrv-digital/cachepilot/pkg/runtime"
	"github.com/msrv-digital/cachepilot/pkg/tenant"
	"github.com/msrv-digital/cachepilot/pkg/types"
)

// ArchiveSuffix is the extension of every backup archive.
const ArchiveSuffix = ".tar.gz"

// RestoreError reports a failed restore. The tenant's prior directory
// was rolled back into place, or was never touched.
type RestoreError struct {
	Tenant  string
	Archive string
	Err     error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restoring %s from %s: %v", e.Tenant, e.Archive, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// Info describes one archive on disk.
type Info struct {
	Path    string
	Size    int64
	Created time.Time
}

// Service creates and restores tenant backups. An archive is the whole
// tenant directory: record, generated configuration, certificates and
// the engine's data directory.
type Service struct {
	cfg        *config.Config
	store      *tenant.Store
	controller *runtime.Controller
	broker     *events.Broker
	logger     zerolog.Logger
}

// NewService creates a backup service.
func NewService(cfg *config.Config, store *tenant.Store, controller *runtime.Controller) *Service {
	return &Service{
		cfg:        cfg,
		store:      store,
		controller: controller,
		logger:     log.WithComponent("backup"),
	}
}

// WithEvents publishes restore events to the given broker.
func (s *Service) WithEvents(broker *events.Broker) *Service {
	s.broker = broker
	return s
}

// ValidateSchedule checks a five-field cron expression.
func ValidateSchedule(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return types.NewValidationError("backup_schedule", err.Error())
	}
	return nil
}

// Backup archives the tenant's directory and returns the archive path.
// A save-to-disk is triggered first on a best-effort basis; the engine
// may refuse it, in which case the archive carries the last automatic
// snapshot and the append-only log.
func (s *Service) Backup(ctx context.Context, name string) (string, error) {
	rec, err := s.store.Get(name)
	if err != nil {
		return "", err
	}

	s.triggerSave(ctx, rec)

	dir := filepath.Join(s.cfg.Paths.BackupsDir, name)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	archive := filepath.Join(dir, fmt.Sprintf("%s-%s-%s%s", name, stamp, uuid.NewString()[:8], ArchiveSuffix))

	if err := writeArchive(archive, s.store.Dir(name)); err != nil {
		os.Remove(archive)
		return "", err
	}

	s.logger.Info().Str("tenant", name).Str("archive", archive).Msg("backup created")
	return archive, nil
}

// List returns the tenant's archives, newest first.
func (s *Service) List(name string) ([]Info, error) {
	dir := filepath.Join(s.cfg.Paths.BackupsDir, name)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ArchiveSuffix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			Path:    filepath.Join(dir, e.Name()),
			Size:    fi.Size(),
			Created: fi.ModTime(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Created.After(infos[j].Created) })
	return infos, nil
}

// Restore replaces the tenant's directory with the archive's contents
// and brings the container back up. The current directory is kept aside
// until the archive has been extracted and its record validated, so a
// bad archive never leaves the tenant without a directory.
func (s *Service) Restore(ctx context.Context, name, archive string) (*types.TenantRecord, error) {
	dir := s.store.Dir(name)

	if s.store.Exists(name) {
		if err := s.controller.Down(ctx, name, dir); err != nil {
			s.logger.Warn().Err(err).Str("tenant", name).Msg("teardown before restore failed")
		}
	}

	aside := ""
	if _, err := os.Stat(dir); err == nil {
		aside = dir + ".pre-restore-" + uuid.NewString()[:8]
		if err := os.Rename(dir, aside); err != nil {
			return nil, fmt.Errorf("setting current directory aside: %w", err)
		}
	}

	rollback := func(cause error) error {
		os.RemoveAll(dir)
		if aside != "" {
			if rerr := os.Rename(aside, dir); rerr != nil {
				cause = fmt.Errorf("%w (rollback also failed: %v)", cause, rerr)
			}
		}
		return &RestoreError{Tenant: name, Archive: archive, Err: cause}
	}

	if err := extractArchive(archive, dir); err != nil {
		return nil, rollback(err)
	}

	rec, err := s.store.Get(name)
	if err != nil {
		return nil, rollback(fmt.Errorf("archive has no usable tenant record: %w", err))
	}
	if rec.Name != name {
		return nil, rollback(types.NewValidationError("tenant",
			fmt.Sprintf("archive belongs to tenant %q", rec.Name)))
	}

	if aside != "" {
		os.RemoveAll(aside)
	}

	if err := s.controller.Apply(ctx, name, dir); err != nil {
		return rec, err
	}
	if err := s.controller.WaitHealthy(ctx, name); err != nil {
		s.logger.Warn().Err(err).Str("tenant", name).Msg("restored container not confirmed healthy")
	}

	if s.broker != nil {
		s.broker.Publish(&events.Event{
			Type:    events.EventTenantRestored,
			Tenant:  name,
			Message: fmt.Sprintf("restored from %s", filepath.Base(archive)),
		})
	}
	s.logger.Info().Str("tenant", name).Str("archive", archive).Msg("backup restored")
	return rec, nil
}

// triggerSave asks the engine to flush to disk before archiving. The
// engine may have the command disabled; durable tenants still snapshot
// automatically, so a refusal only costs freshness.
func (s *Service) triggerSave(ctx context.Context, rec *types.TenantRecord) {
	args := []string{"-a", rec.Password, "--no-auth-warning"}
	if rec.SecurityMode == types.ModeEncryptedOnly {
		args = append(args, "--tls", "--cacert", "/tls/ca.crt", "-p", fmt.Sprint(rec.PortTLS))
	} else {
		args = append(args, "-p", fmt.Sprint(rec.PortPlain))
	}
	args = append(args, "SAVE")

	if _, err := s.controller.ExecEngine(ctx, rec.Name, args...); err != nil {
		s.logger.Warn().Err(err).Str("tenant", rec.Name).Msg("save trigger refused, archiving last snapshot")
	}
}

func writeArchive(path, root string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	err = filepath.Walk(root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if !fi.Mode().IsRegular() && !fi.IsDir() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}

		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if err != nil {
		return fmt.Errorf("archiving %s: %w", root, err)
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return f.Close()
}

func extractArchive(path, dest string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	defer gz.Close()

	if err := os.MkdirAll(dest, 0750); err != nil {
		return err
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)&0777); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode)&0777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
}

// safeJoin rejects entries that would escape the destination.
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return target, nil
}
