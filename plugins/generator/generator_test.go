package generator

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"evgenkit/internal/repository"
	"evgenkit/pkg/classdesc"
	"evgenkit/pkg/iface"
	"evgenkit/pkg/object"
	"evgenkit/testutil"
)

type registrar struct{ ifaces *iface.Registry }

func (registrar) Library() string               { return Library }
func (r registrar) Interfaces() *iface.Registry { return r.ifaces }

func newRepository(t *testing.T) *repository.Repository {
	t.Helper()
	classes := classdesc.NewRegistry()
	ifaces := iface.NewRegistry(classes)
	if err := New().Register(registrar{ifaces}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return repository.New(classes, ifaces)
}

const setup = `
mkdir /Gen
create Handler /Gen/Cut
set /Gen/Cut:Cut 50
set /Gen/Cut:Mode Veto
create SubHandler /Gen/Scale
set /Gen/Scale:Weight 0.5
set /Gen/Cut:Next /Gen/Scale
create Analysis /Gen/Counts
create EventGenerator /Gen/Main
set /Gen/Main:NumberOfEvents 100
set /Gen/Main:EventHandler /Gen/Cut
insert /Gen/Main:Analyses /Gen/Counts
set /Gen/Main:PrintEvents 2,4
set /Gen/Main:DebugLevel Summary
`

func script(t *testing.T, repo *repository.Repository, src string) {
	t.Helper()
	if _, err := repo.ExecScript(context.Background(), strings.NewReader(src)); err != nil {
		t.Fatalf("script: %v", err)
	}
}

func TestRunThroughHandlerChain(t *testing.T) {
	repo := newRepository(t)
	script(t, repo, setup)
	if got, err := repo.Exec(context.Background(), "get /Gen/Cut:Cut"); err != nil || got != "50" {
		t.Fatalf("cut reads back in GeV: %q %v", got, err)
	}

	run, err := repo.Isolate(context.Background(), "/Gen/Main")
	if err != nil {
		t.Fatalf("isolate: %v", err)
	}
	if err := run.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	gen := run.RootEntity().(*EventGenerator)
	if gen.Generated != 100 || gen.Accepted != 50 || gen.Errors != 0 {
		t.Fatalf("unexpected counters %d/%d/%d", gen.Generated, gen.Accepted, gen.Errors)
	}
	want := []string{"event 2: energy=74 GeV weight=0.5", "generated=100 accepted=50 errors=0"}
	if strings.Join(gen.Log, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected log %q", gen.Log)
	}
	e, ok := run.Lookup("/Gen/Counts")
	if !ok {
		t.Fatalf("analysis missing from run")
	}
	counts := e.(*Analysis)
	if counts.Events != 50 || counts.SumWeights != 25 || !counts.Finished {
		t.Fatalf("unexpected analysis %s", counts.Summary())
	}
	orig, _ := repo.Lookup("/Gen/Counts")
	if orig.(*Analysis).Events != 0 {
		t.Fatalf("run leaked into the repository")
	}
}

func TestStrictModeAbortsAfterMaxErrors(t *testing.T) {
	repo := newRepository(t)
	script(t, repo, setup+`
set /Gen/Cut:Mode Strict
set /Gen/Main:MaxErrors 3
set /Gen/Main:DebugLevel Full
`)
	run, err := repo.Isolate(context.Background(), "/Gen/Main")
	if err != nil {
		t.Fatalf("isolate: %v", err)
	}
	err = run.Execute(context.Background())
	if err == nil || !strings.Contains(err.Error(), "too many failed events (4)") {
		t.Fatalf("expected abort after four failures, got %v", err)
	}
	gen := run.RootEntity().(*EventGenerator)
	if gen.Errors != 4 || len(gen.Log) == 0 {
		t.Fatalf("expected failures logged, got %d %q", gen.Errors, gen.Log)
	}
}

func TestInitRejectsMissingHandler(t *testing.T) {
	repo := newRepository(t)
	script(t, repo, "create EventGenerator /Lonely")
	run, err := repo.Isolate(context.Background(), "/Lonely")
	if err != nil {
		t.Fatalf("isolate: %v", err)
	}
	if err := run.Execute(context.Background()); err == nil || !strings.Contains(err.Error(), "no event handler") {
		t.Fatalf("expected init failure, got %v", err)
	}
}

func TestDefaultHandlerBindsWhenUnset(t *testing.T) {
	repo := newRepository(t)
	script(t, repo, `
create Handler /H
setdefault Handler /H
create EventGenerator /G
set /G:NumberOfEvents 10
`)
	run, err := repo.Isolate(context.Background(), "/G")
	if err != nil {
		t.Fatalf("isolate: %v", err)
	}
	if err := run.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if gen := run.RootEntity().(*EventGenerator); gen.Accepted != 10 || gen.EventHandler.IsNil() {
		t.Fatalf("default handler not used: %+v", gen)
	}
}

func TestPrintEventsValidation(t *testing.T) {
	repo := newRepository(t)
	script(t, repo, "create EventGenerator /G")
	if _, err := repo.Exec(context.Background(), "set /G:PrintEvents 1,x"); err == nil {
		t.Fatalf("expected invalid event list to be rejected")
	}
	if got, _ := repo.Exec(context.Background(), "get /G:PrintEvents"); got != "" {
		t.Fatalf("rejected value stored: %q", got)
	}
	if _, err := parsePrintEvents("0"); err == nil {
		t.Fatalf("event numbers start at one")
	}
}

type loopEnv struct{ byID map[object.ID]object.Entity }

func (e loopEnv) Resolve(string) (object.Entity, bool) { return nil, false }
func (e loopEnv) Entity(id object.ID) (object.Entity, bool) {
	ent, ok := e.byID[id]
	return ent, ok
}
func (loopEnv) IsA(string, string) bool { return true }

func TestHandlerChainLoopDetected(t *testing.T) {
	repo := newRepository(t)
	script(t, repo, `
create Handler /A
create Handler /B
set /A:Next /B
set /B:Next /A
`)
	a, _ := repo.Lookup("/A")
	b, _ := repo.Lookup("/B")
	env := loopEnv{byID: map[object.ID]object.Entity{a.Interfaced().ID(): a, b.Interfaced().ID(): b}}
	if _, _, err := process(env, a.(handlerView), 1); err == nil || !strings.Contains(err.Error(), "loops") {
		t.Fatalf("expected loop error, got %v", err)
	}
}

func TestSubHandlerVersionOneUpgrade(t *testing.T) {
	old := classdesc.NewRegistry()
	mustRegister := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	mustRegister(classdesc.Register(old, classdesc.Class[handlerView]{
		Name: "Handler", Version: 1, New: func() object.Entity { return &Handler{} },
		Output: handlerOutput, Input: handlerInput,
	}))
	mustRegister(classdesc.Register(old, classdesc.Class[*SubHandler]{
		Name: "SubHandler", Version: 1, Bases: []string{"Handler"},
		New: func() object.Entity { return &SubHandler{} },
		Output: func(s *SubHandler, out object.OutputStream) error {
			out.WriteInt(int64(s.Weight * 100))
			return out.Err()
		},
		Input: func(s *SubHandler, in object.InputStream, _ int) error {
			s.Weight = float64(in.ReadInt()) / 100
			return in.Err()
		},
	}))
	legacy := repository.New(old, iface.NewRegistry(old))
	e, err := legacy.Create("SubHandler", "/S", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	e.(*SubHandler).Weight = 0.25
	e.(*SubHandler).Cut = 3 * GeV
	var buf bytes.Buffer
	if err := legacy.Save(&buf); err != nil {
		t.Fatalf("save: %v", err)
	}

	repo := newRepository(t)
	if err := repo.Load(&buf); err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := repo.Lookup("/S")
	if !ok {
		t.Fatalf("missing after load")
	}
	sub := got.(*SubHandler)
	if sub.Weight != 0.25 || sub.Cut != 3*GeV {
		t.Fatalf("upgrade lost state: %+v", sub)
	}
}

func TestAnalysisFinishIsIdempotent(t *testing.T) {
	a := &Analysis{}
	a.analyze(2)
	if err := a.DoFinish(context.Background()); err != nil {
		t.Fatalf("finish: %v", err)
	}
	a.analyze(5)
	_ = a.DoFinish(context.Background())
	if a.Events != 1 || a.SumWeights != 2 {
		t.Fatalf("finish must freeze counters: %s", a.Summary())
	}
}

func TestGeneratorUsesOnlyPublicPackages(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "plugins build on pkg/ only")
}
