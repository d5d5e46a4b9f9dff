package integration

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"evgenkit/internal/archive"
	"evgenkit/internal/core"
	"evgenkit/internal/infra/persistence/memory"
	"evgenkit/internal/infra/persistence/sqlite"
	"evgenkit/pkg/object"
	"evgenkit/plugins/generator"
)

const setup = `mkdir /Gen
create Handler /Gen/Cut generator
set /Gen/Cut:Cut 30
set /Gen/Cut:Mode Veto
create Analysis /Gen/Counts
create EventGenerator /Gen/Main
set /Gen/Main:NumberOfEvents 50
set /Gen/Main:EventHandler /Gen/Cut
insert /Gen/Main:Analyses /Gen/Counts
`

// TestIntegrationSmoke builds a setup, stores it, reloads it in a second
// service sharing the stores, runs it, archives the run and restores it, for
// each snapshot backend and archive driver.
func TestIntegrationSmoke(t *testing.T) {
	ctx := context.Background()
	snapshotVariants := []struct {
		name string
		open func(t *testing.T) object.SnapshotStore
	}{
		{"memory", func(*testing.T) object.SnapshotStore { return memory.NewStore() }},
		{"sqlite", func(t *testing.T) object.SnapshotStore {
			s, err := sqlite.NewStore(filepath.Join(t.TempDir(), "repo.db"))
			if err != nil {
				t.Fatalf("new sqlite store: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
	}
	archiveVariants := []struct {
		name string
		open func(t *testing.T) archive.Store
	}{
		{"memory", func(*testing.T) archive.Store { return archive.NewMemory() }},
		{"fs", func(t *testing.T) archive.Store {
			s, err := archive.NewFilesystem(t.TempDir())
			if err != nil {
				t.Fatalf("new fs archive: %v", err)
			}
			return s
		}},
		{"mock-s3", func(*testing.T) archive.Store { return archive.NewMockS3ForTests() }},
	}

	for _, sv := range snapshotVariants {
		for _, av := range archiveVariants {
			t.Run(sv.name+"/"+av.name, func(t *testing.T) {
				snapshots, archives := sv.open(t), av.open(t)
				newService := func() *core.Service {
					svc, err := core.NewService(core.WithSnapshotStore(snapshots), core.WithArchive(archives))
					if err != nil {
						t.Fatalf("new service: %v", err)
					}
					return svc
				}

				builder := newService()
				if _, err := builder.ExecScript(ctx, strings.NewReader(setup)); err != nil {
					t.Fatalf("setup: %v", err)
				}
				if err := builder.SaveRepository(ctx, "smoke"); err != nil {
					t.Fatalf("save: %v", err)
				}

				runner := newService()
				if err := runner.LoadRepository(ctx, "smoke"); err != nil {
					t.Fatalf("load: %v", err)
				}
				run, err := runner.Run(ctx, "/Gen/Main")
				if err != nil {
					t.Fatalf("run: %v", err)
				}
				main, ok := run.RootEntity().(*generator.EventGenerator)
				if !ok || main.Generated != 50 || main.Accepted == 0 || main.Accepted == main.Generated {
					t.Fatalf("unexpected run result %+v", run.RootEntity())
				}
				info, err := runner.ArchiveRun(ctx, run)
				if err != nil {
					t.Fatalf("archive: %v", err)
				}

				restored, err := newService().RestoreRun(ctx, info.Key)
				if err != nil {
					t.Fatalf("restore: %v", err)
				}
				if restored.ID != run.ID || !reflect.DeepEqual(restored.Names(), run.Names()) {
					t.Fatalf("restored run differs: %v %v", restored.Names(), run.Names())
				}
				again, ok := restored.RootEntity().(*generator.EventGenerator)
				if !ok || again.Accepted != main.Accepted || !reflect.DeepEqual(again.Log, main.Log) {
					t.Fatalf("restored generator differs: %+v", restored.RootEntity())
				}
			})
		}
	}
}
