package tenant

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/msrv-digital/cachepilot/pkg/config"
	"github.com/msrv-digital/cachepilot/pkg/log"
	"github.com/msrv-digital/cachepilot/pkg/types"
)

// ErrTenantNotFound is returned when a tenant directory or record file
// does not exist.
var ErrTenantNotFound = errors.New("tenant not found")

// RecordFileName is the flat key=value record inside each tenant directory.
const RecordFileName = "config.env"

// createdFormat is the timestamp layout of the CREATED field.
const createdFormat = time.RFC3339

// Known record keys, in canonical write order.
var knownKeys = []string{
	"TENANT",
	"SECURITY_MODE",
	"PORT_TLS",
	"PORT_PLAIN",
	"PASSWORD",
	"MAXMEMORY",
	"DOCKER_LIMIT",
	"CREATED",
	"INSIGHT_PORT",
	"BACKUP_ENABLED",
	"BACKUP_SCHEDULE",
	"PERSISTENCE_MODE",
}

// Store persists tenant records as one directory per tenant with a flat
// config.env file. It is the only persisted state of the system.
type Store struct {
	dir    string
	logger zerolog.Logger
}

// NewStore creates a record store rooted at the configured tenants dir.
func NewStore(cfg *config.Config) *Store {
	return &Store{
		dir:    cfg.Paths.TenantsDir,
		logger: log.WithComponent("store"),
	}
}

// Root returns the tenants base directory.
func (s *Store) Root() string {
	return s.dir
}

// Dir returns the directory of one tenant.
func (s *Store) Dir(name string) string {
	return filepath.Join(s.dir, name)
}

// RecordPath returns the path of a tenant's record file.
func (s *Store) RecordPath(name string) string {
	return filepath.Join(s.dir, name, RecordFileName)
}

// Exists reports whether a tenant record exists.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.RecordPath(name))
	return err == nil
}

// Get reads and parses one tenant record. Keys the core does not own are
// collected into Extra and survive the next Save.
func (s *Store) Get(name string) (*types.TenantRecord, error) {
	data, err := os.ReadFile(s.RecordPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, name)
		}
		return nil, fmt.Errorf("failed to read record for %s: %w", name, err)
	}
	return parseRecord(name, string(data))
}

// List returns all tenant records, sorted by name. Directories without a
// record file are skipped.
func (s *Store) List() ([]*types.TenantRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read tenants directory: %w", err)
	}

	var records []*types.TenantRecord
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec, err := s.Get(entry.Name())
		if err != nil {
			if errors.Is(err, ErrTenantNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

// Save writes a record, creating the tenant directory if needed. The whole
// file is regenerated; unknown keys found on disk are merged into the
// output so fields owned by other subsystems are not destroyed.
func (s *Store) Save(rec *types.TenantRecord) error {
	if err := types.ValidateTenantName(rec.Name); err != nil {
		return err
	}

	dir := s.Dir(rec.Name)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create tenant directory: %w", err)
	}

	extra := make(map[string]string)
	if existing, err := s.Get(rec.Name); err == nil {
		for k, v := range existing.Extra {
			extra[k] = v
		}
	}
	for k, v := range rec.Extra {
		extra[k] = v
	}

	content := renderRecord(rec, extra)

	// Write-then-rename so a crash never leaves a half-written record.
	tmp := s.RecordPath(rec.Name) + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write record for %s: %w", rec.Name, err)
	}
	if err := os.Rename(tmp, s.RecordPath(rec.Name)); err != nil {
		return fmt.Errorf("failed to persist record for %s: %w", rec.Name, err)
	}

	s.logger.Debug().Str("tenant", rec.Name).Msg("record saved")
	return nil
}

// Delete removes a tenant directory and everything under it. The tenant's
// ports become free the instant the record disappears from the scan.
func (s *Store) Delete(name string) error {
	if err := types.ValidateTenantName(name); err != nil {
		return err
	}
	if !s.Exists(name) {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, name)
	}
	if err := os.RemoveAll(s.Dir(name)); err != nil {
		return fmt.Errorf("failed to remove tenant %s: %w", name, err)
	}
	s.logger.Info().Str("tenant", name).Msg("record removed")
	return nil
}

func parseRecord(name, content string) (*types.TenantRecord, error) {
	rec := &types.TenantRecord{
		Name:  name,
		Extra: make(map[string]string),
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, "=") {
			continue
		}
		key, value, _ := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		var err error
		switch key {
		case "TENANT":
			if value != "" {
				rec.Name = value
			}
		case "SECURITY_MODE":
			rec.SecurityMode = types.SecurityMode(value)
		case "PORT_TLS":
			rec.PortTLS, err = parsePort(key, value)
		case "PORT_PLAIN":
			rec.PortPlain, err = parsePort(key, value)
		case "PASSWORD":
			rec.Password = value
		case "MAXMEMORY":
			rec.MaxMemoryMB, err = parseInt(key, value)
		case "DOCKER_LIMIT":
			rec.ContainerMemoryMB, err = parseInt(key, value)
		case "CREATED":
			rec.CreatedAt, err = parseCreated(key, value)
		case "INSIGHT_PORT":
			rec.InsightPort, err = parsePort(key, value)
		case "BACKUP_ENABLED":
			rec.BackupEnabled = value == "true"
		case "BACKUP_SCHEDULE":
			rec.BackupSchedule = value
		case "PERSISTENCE_MODE":
			rec.PersistenceMode = types.PersistenceMode(value)
		default:
			rec.Extra[key] = value
		}
		if err != nil {
			return nil, err
		}
	}

	// Records written before persistence modes existed default to durable.
	if rec.PersistenceMode == "" {
		rec.PersistenceMode = types.PersistenceDurable
	}

	return rec, nil
}

func renderRecord(rec *types.TenantRecord, extra map[string]string) string {
	var b strings.Builder

	values := map[string]string{
		"TENANT":           rec.Name,
		"SECURITY_MODE":    string(rec.SecurityMode),
		"PASSWORD":         rec.Password,
		"MAXMEMORY":        strconv.Itoa(rec.MaxMemoryMB),
		"DOCKER_LIMIT":     strconv.Itoa(rec.ContainerMemoryMB),
		"CREATED":          rec.CreatedAt.Format(createdFormat),
		"BACKUP_ENABLED":   strconv.FormatBool(rec.BackupEnabled),
		"BACKUP_SCHEDULE":  rec.BackupSchedule,
		"PERSISTENCE_MODE": string(rec.PersistenceMode),
	}
	if rec.PortTLS > 0 {
		values["PORT_TLS"] = strconv.Itoa(rec.PortTLS)
	}
	if rec.PortPlain > 0 {
		values["PORT_PLAIN"] = strconv.Itoa(rec.PortPlain)
	}
	if rec.InsightPort > 0 {
		values["INSIGHT_PORT"] = strconv.Itoa(rec.InsightPort)
	}

	for _, key := range knownKeys {
		if v, ok := values[key]; ok {
			fmt.Fprintf(&b, "%s=%s\n", key, v)
		}
	}

	unknown := make([]string, 0, len(extra))
	for k := range extra {
		unknown = append(unknown, k)
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		fmt.Fprintf(&b, "%s=%s\n", k, extra[k])
	}

	return b.String()
}

func parsePort(key, value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 || n > 65535 {
		return 0, types.NewValidationError(key, fmt.Sprintf("invalid port %q", value))
	}
	return n, nil
}

func parseInt(key, value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, types.NewValidationError(key, fmt.Sprintf("invalid integer %q", value))
	}
	return n, nil
}

// parseCreated rejects a corrupt CREATED value instead of quietly
// replacing the creation time with the zero time on the next rewrite.
func parseCreated(key, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(createdFormat, value)
	if err != nil {
		return time.Time{}, types.NewValidationError(key, fmt.Sprintf("invalid timestamp %q", value))
	}
	return t, nil
}
