// Package tenants is the manifest store of onboarded tenants: an ordered,
// read-heavy mapping of tenant slug to configuration. Reads are lock-free
// snapshots; writes take an exclusive lock, persist the manifest file, and
// record the change in the config-history governance table.
package tenants

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Status of a tenant in its lifecycle.
type Status string

const (
	// StatusOnboarding marks a tenant whose first pipeline run has not yet
	// completed.
	StatusOnboarding Status = "onboarding"
	// StatusActive marks a tenant with at least one successful run.
	StatusActive Status = "active"
	// StatusDisabled marks a tenant excluded from scheduling.
	StatusDisabled Status = "disabled"
)

// SourceConfig is one enabled (or disabled) source platform of a tenant.
// Slice order within TenantConfig is the tenant's source insertion order,
// which defines factory UNION branch order.
type SourceConfig struct {
	Platform string `yaml:"platform"`
	Enabled  bool   `yaml:"enabled"`
	Logic    Logic  `yaml:"logic,omitempty"`
}

// Logic carries per-source table logic overrides.
type Logic struct {
	// ConversionEvents mark a session as a conversion session. May be empty,
	// in which case no session converts.
	ConversionEvents []string `yaml:"conversion_events,omitempty"`
	// FunnelSteps is the ordered list of event names of the tenant's funnel.
	FunnelSteps []string `yaml:"funnel_steps,omitempty"`
	// IdentityStrategy is IdentityTransactionID or IdentityEmail.
	IdentityStrategy string `yaml:"identity_strategy,omitempty"`
}

// Identity resolution strategies linking analytics users to order customers.
const (
	IdentityTransactionID = "transaction_id_match"
	IdentityEmail         = "email_match"
)

// TenantConfig is one tenant's manifest entry.
type TenantConfig struct {
	Slug         string         `yaml:"tenant_slug"`
	BusinessName string         `yaml:"business_name"`
	Status       Status         `yaml:"status"`
	Sources      []SourceConfig `yaml:"sources"`
}

// EnabledSources returns the enabled source platforms in insertion order.
func (t *TenantConfig) EnabledSources() []string {
	var out []string
	for _, s := range t.Sources {
		if s.Enabled {
			out = append(out, s.Platform)
		}
	}
	return out
}

// SourceLogic returns the Logic of an enabled source, or a zero Logic.
func (t *TenantConfig) SourceLogic(platform string) Logic {
	for _, s := range t.Sources {
		if s.Platform == platform {
			return s.Logic
		}
	}
	return Logic{}
}

// Validate checks manifest entry shape.
func (t *TenantConfig) Validate() error {
	if t.Slug == "" {
		return fmt.Errorf("tenant config is missing tenant_slug")
	}
	for _, r := range t.Slug {
		var ok = r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !ok {
			return fmt.Errorf("tenant slug %q must be lowercase ascii, digits, and underscores", t.Slug)
		}
	}
	switch t.Status {
	case StatusOnboarding, StatusActive, StatusDisabled:
	default:
		return fmt.Errorf("tenant %s has unknown status %q", t.Slug, t.Status)
	}
	var seen = make(map[string]struct{})
	for _, s := range t.Sources {
		if _, dup := seen[s.Platform]; dup {
			return fmt.Errorf("tenant %s lists source %s twice", t.Slug, s.Platform)
		}
		seen[s.Platform] = struct{}{}
	}
	return nil
}

// HistoryRecorder receives every accepted manifest write. The orchestrator
// wires it to the tenant_config_history governance table.
type HistoryRecorder interface {
	RecordConfigChange(ctx context.Context, change ConfigChange) error
}

// ConfigChange is one governance record of a manifest write.
type ConfigChange struct {
	TenantSlug string
	Operation  string // "upsert" or "mark_status"
	Status     Status
	ConfigYAML string
	ChangedAt  time.Time
}

// Store is the manifest store. The zero value is not usable; construct with
// Open.
type Store struct {
	path string

	// writeMu guards the write path only. Readers load the snapshot pointer.
	writeMu  sync.Mutex
	snapshot atomic.Pointer[manifest]
	history  HistoryRecorder
}

// manifest is an immutable snapshot of the ordered tenant list.
type manifest struct {
	ordered []TenantConfig
	index   map[string]int
}

func buildManifest(ordered []TenantConfig) *manifest {
	var m = &manifest{ordered: ordered, index: make(map[string]int, len(ordered))}
	for i, t := range ordered {
		m.index[t.Slug] = i
	}
	return m
}

// Open loads (or creates) the manifest file at |path|.
func Open(path string) (*Store, error) {
	var s = &Store{path: path}

	var raw, err = os.ReadFile(path)
	if os.IsNotExist(err) {
		s.snapshot.Store(buildManifest(nil))
		return s, nil
	} else if err != nil {
		return nil, fmt.Errorf("reading tenants manifest: %w", err)
	}

	var ordered []TenantConfig
	if err := yaml.Unmarshal(raw, &ordered); err != nil {
		return nil, fmt.Errorf("parsing tenants manifest: %w", err)
	}
	for i := range ordered {
		if err := ordered[i].Validate(); err != nil {
			return nil, fmt.Errorf("tenants manifest entry %d: %w", i, err)
		}
	}
	s.snapshot.Store(buildManifest(ordered))
	return s, nil
}

// SetHistoryRecorder installs the governance recorder. Pass nil to disable.
func (s *Store) SetHistoryRecorder(h HistoryRecorder) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.history = h
}

// Get returns the tenant's configuration.
func (s *Store) Get(slug string) (TenantConfig, error) {
	var m = s.snapshot.Load()
	if i, ok := m.index[slug]; ok {
		return m.ordered[i], nil
	}
	return TenantConfig{}, fmt.Errorf("tenant %q is not in the manifest", slug)
}

// List returns all tenants in manifest order. The returned slice is a copy.
func (s *Store) List() []TenantConfig {
	var m = s.snapshot.Load()
	var out = make([]TenantConfig, len(m.ordered))
	copy(out, m.ordered)
	return out
}

// Upsert writes a tenant configuration. An existing tenant keeps its
// position in the manifest order; a new tenant appends.
func (s *Store) Upsert(ctx context.Context, cfg TenantConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var prev = s.snapshot.Load()
	var next = make([]TenantConfig, len(prev.ordered))
	copy(next, prev.ordered)

	if i, ok := prev.index[cfg.Slug]; ok {
		next[i] = cfg
	} else {
		next = append(next, cfg)
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.snapshot.Store(buildManifest(next))

	s.recordChange(ctx, cfg, "upsert")
	return nil
}

// MarkStatus updates the status of an existing tenant.
func (s *Store) MarkStatus(ctx context.Context, slug string, status Status) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var prev = s.snapshot.Load()
	var i, ok = prev.index[slug]
	if !ok {
		return fmt.Errorf("tenant %q is not in the manifest", slug)
	}

	var next = make([]TenantConfig, len(prev.ordered))
	copy(next, prev.ordered)
	next[i].Status = status

	if err := next[i].Validate(); err != nil {
		return err
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.snapshot.Store(buildManifest(next))

	s.recordChange(ctx, next[i], "mark_status")
	return nil
}

func (s *Store) persist(ordered []TenantConfig) error {
	var raw, err = yaml.Marshal(ordered)
	if err != nil {
		return fmt.Errorf("encoding tenants manifest: %w", err)
	}
	var tmp = s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("writing tenants manifest: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing tenants manifest: %w", err)
	}
	return nil
}

func (s *Store) recordChange(ctx context.Context, cfg TenantConfig, op string) {
	if s.history == nil {
		return
	}
	var raw, _ = yaml.Marshal(cfg)
	var err = s.history.RecordConfigChange(ctx, ConfigChange{
		TenantSlug: cfg.Slug,
		Operation:  op,
		Status:     cfg.Status,
		ConfigYAML: string(raw),
		ChangedAt:  time.Now().UTC(),
	})
	if err != nil {
		// Governance is best-effort; the manifest write already succeeded.
		log.WithFields(log.Fields{
			"tenant": cfg.Slug,
			"err":    err,
		}).Warn("failed to record tenant config history")
	}
}
