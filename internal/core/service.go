// Package core wires the registries, the repository and the storage backends
// into the Service used by the CLI.
package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"evgenkit/internal/archive"
	"evgenkit/internal/infra/persistence/memory"
	"evgenkit/internal/repository"
	"evgenkit/pkg/classdesc"
	"evgenkit/pkg/iface"
	"evgenkit/pkg/object"
	"evgenkit/pkg/pluginapi"
)

// RunPrefix is the archive key prefix of stored runs.
const RunPrefix = "runs/"

// RunContentType labels archived runs.
const RunContentType = "application/x-evgenkit-run"

// MetricsRecorder receives the outcome of every service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// objectGauge is implemented by recorders that also track repository size.
type objectGauge interface {
	SetLiveObjects(n int)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSnapshotStore sets the snapshot backend. The default is in-memory.
func WithSnapshotStore(store object.SnapshotStore) Option {
	return func(s *Service) { s.snapshots = store }
}

// WithArchive sets the run archive. The default is in-memory.
func WithArchive(store archive.Store) Option {
	return func(s *Service) { s.archives = store }
}

// WithPlugins replaces the loadable plugin set.
func WithPlugins(plugins ...pluginapi.Plugin) Option {
	return func(s *Service) { s.available = plugins }
}

// Service owns one repository together with its class libraries and the
// backends snapshots and runs are kept in.
type Service struct {
	classes   *classdesc.Registry
	ifaces    *iface.Registry
	table     *classdesc.PluginTable
	repo      *repository.Repository
	snapshots object.SnapshotStore
	archives  archive.Store
	log       zerolog.Logger
	metrics   MetricsRecorder
	available []pluginapi.Plugin

	mu      sync.Mutex
	plugins map[string]PluginMetadata
}

// NewService builds a service. Plugins are loaded lazily, the first time one
// of their classes is named.
func NewService(opts ...Option) (*Service, error) {
	s := &Service{
		log:       zerolog.Nop(),
		metrics:   noopMetrics{},
		available: DefaultPlugins(),
		plugins:   make(map[string]PluginMetadata),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.snapshots == nil {
		s.snapshots = memory.NewStore()
	}
	if s.archives == nil {
		s.archives = archive.NewMemory()
	}
	s.classes = classdesc.NewRegistry()
	s.ifaces = iface.NewRegistry(s.classes)
	s.table = classdesc.NewPluginTable()
	for _, p := range s.available {
		if err := s.table.Add(p.Name(), func() error {
			_, err := s.install(p)
			return err
		}); err != nil {
			return nil, err
		}
	}
	s.classes.SetLoader(s.table)
	s.repo = repository.New(s.classes, s.ifaces, repository.WithLogger(s.log))
	return s, nil
}

// Repository exposes the namespace.
func (s *Service) Repository() *repository.Repository { return s.repo }

// Classes exposes the class registry.
func (s *Service) Classes() *classdesc.Registry { return s.classes }

// Interfaces exposes the interface registry.
func (s *Service) Interfaces() *iface.Registry { return s.ifaces }

// Archive exposes the run archive.
func (s *Service) Archive() archive.Store { return s.archives }

func (s *Service) observe(ctx context.Context, op string, start time.Time, err error) {
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	if g, ok := s.metrics.(objectGauge); ok {
		g.SetLiveObjects(s.repo.Len())
	}
}

// InstallPlugin registers p eagerly. Installing the same library twice is an
// error.
func (s *Service) InstallPlugin(p pluginapi.Plugin) (PluginMetadata, error) {
	meta, err := s.install(p)
	if err != nil {
		return PluginMetadata{}, err
	}
	s.table.MarkLoaded(p.Name())
	return meta, nil
}

func (s *Service) install(p pluginapi.Plugin) (PluginMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.plugins[p.Name()]; exists {
		return PluginMetadata{}, fmt.Errorf("plugin %s already installed: %w", p.Name(), object.ErrExists)
	}
	reg := &PluginRegistry{library: p.Name(), ifaces: s.ifaces}
	if err := p.Register(reg); err != nil {
		return PluginMetadata{}, fmt.Errorf("install plugin %s: %w", p.Name(), err)
	}
	meta := PluginMetadata{Name: p.Name(), Version: p.Version(), Classes: reg.classes()}
	s.plugins[p.Name()] = meta
	s.log.Info().Str("plugin", meta.Name).Str("version", meta.Version).Strs("classes", meta.Classes).Msg("plugin installed")
	return meta, nil
}

// LoadAll installs every loadable plugin not installed yet.
func (s *Service) LoadAll() error {
	for _, lib := range s.table.Libraries() {
		if err := s.table.Load(lib); err != nil {
			return err
		}
	}
	return nil
}

// Plugins returns metadata for installed plugins ordered by name.
func (s *Service) Plugins() []PluginMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PluginMetadata, 0, len(s.plugins))
	for _, meta := range s.plugins {
		meta.Classes = append([]string(nil), meta.Classes...)
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Exec runs one repository command.
func (s *Service) Exec(ctx context.Context, line string) (out string, err error) {
	defer func(start time.Time) { s.observe(ctx, "exec", start, err) }(time.Now())
	return s.repo.Exec(ctx, line)
}

// ExecScript runs a command script, stopping at the first failure.
func (s *Service) ExecScript(ctx context.Context, src io.Reader) (out []string, err error) {
	defer func(start time.Time) { s.observe(ctx, "exec_script", start, err) }(time.Now())
	return s.repo.ExecScript(ctx, src)
}

// SaveRepository stores the whole namespace as snapshot name.
func (s *Service) SaveRepository(ctx context.Context, name string) (err error) {
	defer func(start time.Time) { s.observe(ctx, "save_repository", start, err) }(time.Now())
	if strings.TrimSpace(name) == "" {
		return errors.New("snapshot name required")
	}
	var buf bytes.Buffer
	if err := s.repo.Save(&buf); err != nil {
		return err
	}
	if err := s.snapshots.Save(ctx, name, buf.Bytes()); err != nil {
		return fmt.Errorf("save snapshot %s: %w", name, err)
	}
	s.log.Info().Str("snapshot", name).Int("bytes", buf.Len()).Int("objects", s.repo.Len()).Msg("repository saved")
	return nil
}

// LoadRepository replaces the namespace with snapshot name. On failure the
// current contents are kept.
func (s *Service) LoadRepository(ctx context.Context, name string) (err error) {
	defer func(start time.Time) { s.observe(ctx, "load_repository", start, err) }(time.Now())
	payload, found, err := s.snapshots.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("load snapshot %s: %w", name, err)
	}
	if !found {
		return fmt.Errorf("snapshot %s: %w", name, object.ErrNotFound)
	}
	if err := s.repo.Load(bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("snapshot %s: %w", name, err)
	}
	s.log.Info().Str("snapshot", name).Int("objects", s.repo.Len()).Msg("repository loaded")
	return nil
}

// ListSnapshots returns the stored snapshots ordered by name.
func (s *Service) ListSnapshots(ctx context.Context) (out []object.SnapshotInfo, err error) {
	defer func(start time.Time) { s.observe(ctx, "list_snapshots", start, err) }(time.Now())
	return s.snapshots.List(ctx)
}

// DeleteSnapshot removes snapshot name, reporting whether it existed.
func (s *Service) DeleteSnapshot(ctx context.Context, name string) (ok bool, err error) {
	defer func(start time.Time) { s.observe(ctx, "delete_snapshot", start, err) }(time.Now())
	return s.snapshots.Delete(ctx, name)
}

// Isolate copies the object at path and everything it needs into a run.
func (s *Service) Isolate(ctx context.Context, path string) (run *repository.Run, err error) {
	defer func(start time.Time) { s.observe(ctx, "isolate", start, err) }(time.Now())
	return s.repo.Isolate(ctx, path)
}

// Run isolates path and executes the copy. The run is returned even when
// execution fails so its state can be inspected or archived.
func (s *Service) Run(ctx context.Context, path string) (run *repository.Run, err error) {
	defer func(start time.Time) { s.observe(ctx, "run", start, err) }(time.Now())
	run, err = s.repo.Isolate(ctx, path)
	if err != nil {
		return nil, err
	}
	log := s.log.With().Str("run", run.ID.String()).Str("root", path).Logger()
	log.Info().Int("objects", run.Len()).Msg("run started")
	if err = run.Execute(ctx); err != nil {
		log.Error().Err(err).Msg("run failed")
		return run, err
	}
	log.Info().Msg("run finished")
	return run, nil
}

// RunKey is the archive key of run id.
func RunKey(id string) string { return RunPrefix + id + ".evgk" }

// ArchiveRun stores run under RunKey with its root and classes as metadata.
func (s *Service) ArchiveRun(ctx context.Context, run *repository.Run) (info archive.Info, err error) {
	defer func(start time.Time) { s.observe(ctx, "archive_run", start, err) }(time.Now())
	var buf bytes.Buffer
	if err := run.Save(&buf); err != nil {
		return archive.Info{}, err
	}
	key := RunKey(run.ID.String())
	info, err = s.archives.Put(ctx, key, &buf, archive.PutOptions{
		ContentType: RunContentType,
		Metadata: map[string]string{
			"run":     run.ID.String(),
			"root":    run.RootEntity().Interfaced().Name(),
			"classes": strings.Join(run.Classes(), ","),
		},
	})
	if err != nil {
		return archive.Info{}, fmt.Errorf("archive run %s: %w", run.ID, err)
	}
	s.log.Info().Str("key", key).Int64("bytes", info.Size).Str("driver", string(s.archives.Driver())).Msg("run archived")
	return info, nil
}

// RestoreRun reads an archived run back. Classes are loaded from the plugin
// table as needed.
func (s *Service) RestoreRun(ctx context.Context, key string) (run *repository.Run, err error) {
	defer func(start time.Time) { s.observe(ctx, "restore_run", start, err) }(time.Now())
	_, rc, err := s.archives.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	run, err = repository.LoadRun(rc, s.classes, s.ifaces)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", key, err)
	}
	return run, nil
}

// ListRuns returns the archived runs ordered by key.
func (s *Service) ListRuns(ctx context.Context) (out []archive.Info, err error) {
	defer func(start time.Time) { s.observe(ctx, "list_runs", start, err) }(time.Now())
	return s.archives.List(ctx, RunPrefix)
}
