package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"evgenkit/internal/archive"
	"evgenkit/internal/infra/persistence/memory"
	"evgenkit/pkg/object"
	"evgenkit/plugins/generator"
)

type metricsCall struct {
	op      string
	success bool
}

type captureMetrics struct {
	calls []metricsCall
	live  int
}

func (c *captureMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetrics) SetLiveObjects(n int) { c.live = n }

func (c *captureMetrics) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

const setup = `
mkdir /Gen
create Handler /Gen/Cut generator
set /Gen/Cut:Cut 50
set /Gen/Cut:Mode Veto
create Analysis /Gen/Counts
create EventGenerator /Gen/Main
set /Gen/Main:NumberOfEvents 20
set /Gen/Main:EventHandler /Gen/Cut
insert /Gen/Main:Analyses /Gen/Counts
`

func newTestService(t *testing.T, opts ...Option) (*Service, *captureMetrics) {
	t.Helper()
	metrics := &captureMetrics{}
	svc, err := NewService(append([]Option{WithMetrics(metrics)}, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, metrics
}

func TestLazyPluginLoadOnCreate(t *testing.T) {
	svc, metrics := newTestService(t)
	if len(svc.Plugins()) != 0 {
		t.Fatalf("no plugin should be installed before use")
	}
	if _, err := svc.ExecScript(context.Background(), strings.NewReader(setup)); err != nil {
		t.Fatalf("script: %v", err)
	}
	plugins := svc.Plugins()
	if len(plugins) != 1 || plugins[0].Name != generator.Library {
		t.Fatalf("expected generator installed on first use, got %+v", plugins)
	}
	want := "Analysis,EventGenerator,Handler,SubHandler"
	if got := strings.Join(plugins[0].Classes, ","); got != want {
		t.Fatalf("classes = %s", got)
	}
	if _, err := svc.InstallPlugin(generator.New()); !errors.Is(err, object.ErrExists) {
		t.Fatalf("expected duplicate install error, got %v", err)
	}
	if !metrics.has("exec_script", true) || metrics.live != 3 {
		t.Fatalf("metrics not recorded: %+v", metrics)
	}
}

func TestSaveLoadRepository(t *testing.T) {
	store := memory.NewStore()
	svc, metrics := newTestService(t, WithSnapshotStore(store))
	ctx := context.Background()
	if _, err := svc.ExecScript(ctx, strings.NewReader(setup)); err != nil {
		t.Fatalf("script: %v", err)
	}
	if err := svc.SaveRepository(ctx, "baseline"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := svc.SaveRepository(ctx, " "); err == nil {
		t.Fatalf("expected empty name error")
	}

	fresh, _ := newTestService(t, WithSnapshotStore(store))
	if err := fresh.LoadRepository(ctx, "baseline"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got, err := fresh.Exec(ctx, "get /Gen/Main:EventHandler"); err != nil || got != "/Gen/Cut" {
		t.Fatalf("reference lost: %q %v", got, err)
	}
	if err := fresh.LoadRepository(ctx, "missing"); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !metrics.has("save_repository", false) {
		t.Fatalf("failed save not observed")
	}
	infos, err := svc.ListSnapshots(ctx)
	if err != nil || len(infos) != 1 || infos[0].Name != "baseline" {
		t.Fatalf("list: %v %+v", err, infos)
	}
	if ok, err := svc.DeleteSnapshot(ctx, "baseline"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
}

func TestRunArchiveRestore(t *testing.T) {
	for _, store := range []archive.Store{archive.NewMemory(), archive.NewMockS3ForTests()} {
		t.Run(string(store.Driver()), func(t *testing.T) {
			svc, _ := newTestService(t, WithArchive(store))
			ctx := context.Background()
			if _, err := svc.ExecScript(ctx, strings.NewReader(setup)); err != nil {
				t.Fatalf("script: %v", err)
			}
			run, err := svc.Run(ctx, "/Gen/Main")
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			accepted := run.RootEntity().(*generator.EventGenerator).Accepted
			if accepted != 9 {
				t.Fatalf("accepted = %d", accepted)
			}
			info, err := svc.ArchiveRun(ctx, run)
			if err != nil {
				t.Fatalf("archive: %v", err)
			}
			if info.Key != RunKey(run.ID.String()) || info.Metadata["root"] != "/Gen/Main" {
				t.Fatalf("unexpected archive info %+v", info)
			}
			if info.Metadata["classes"] != "Analysis,EventGenerator,Handler" {
				t.Fatalf("classes metadata = %q", info.Metadata["classes"])
			}
			if _, err := svc.ArchiveRun(ctx, run); !errors.Is(err, archive.ErrExists) {
				t.Fatalf("archiving twice must fail, got %v", err)
			}
			runs, err := svc.ListRuns(ctx)
			if err != nil || len(runs) != 1 {
				t.Fatalf("list runs: %v %+v", err, runs)
			}

			other, _ := newTestService(t, WithArchive(store))
			restored, err := other.RestoreRun(ctx, info.Key)
			if err != nil {
				t.Fatalf("restore: %v", err)
			}
			if restored.ID != run.ID {
				t.Fatalf("run id changed: %s != %s", restored.ID, run.ID)
			}
			gen := restored.RootEntity().(*generator.EventGenerator)
			if gen.Accepted != accepted || gen.Generated != 20 {
				t.Fatalf("restored counters %d/%d", gen.Accepted, gen.Generated)
			}
			if _, err := other.RestoreRun(ctx, RunKey("missing")); !errors.Is(err, archive.ErrNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
		})
	}
}

func TestRunReturnsFailedRun(t *testing.T) {
	svc, metrics := newTestService(t)
	ctx := context.Background()
	if _, err := svc.ExecScript(ctx, strings.NewReader(setup+"set /Gen/Cut:Mode Strict\nset /Gen/Main:MaxErrors 0\n")); err != nil {
		t.Fatalf("script: %v", err)
	}
	run, err := svc.Run(ctx, "/Gen/Main")
	if err == nil || run == nil {
		t.Fatalf("expected failed run to be returned, got %v %v", run, err)
	}
	if !metrics.has("run", false) {
		t.Fatalf("failed run not observed")
	}
}

func TestLoadAllInstallsEveryPlugin(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.LoadAll(); err != nil {
		t.Fatalf("load all: %v", err)
	}
	if err := svc.LoadAll(); err != nil {
		t.Fatalf("second load all: %v", err)
	}
	if len(svc.Plugins()) != len(DefaultPlugins()) {
		t.Fatalf("expected all default plugins installed")
	}
}
