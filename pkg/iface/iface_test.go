package iface

import (
	"errors"
	"strings"
	"testing"

	"evgenkit/pkg/classdesc"
	"evgenkit/pkg/object"
	"evgenkit/testutil"
)

type cut struct {
	object.Base
	Value  float64
	Events int64
	Mode   int
	Label  string
	Next   object.ID
	Chain  []object.ID
}

func (c *cut) Clone() object.Entity { cp := *c; return &cp }

func (c *cut) cutState() *cut { return c }

type cutView interface{ cutState() *cut }

type tightCut struct {
	cut
}

func (c *tightCut) Clone() object.Entity { cp := *c; return &cp }

type other struct{ object.Base }

func (o *other) Clone() object.Entity { cp := *o; return &cp }

type fakeEnv struct {
	classes *classdesc.Registry
	arena   *object.Arena
}

func (f fakeEnv) Resolve(path string) (object.Entity, bool) {
	for _, e := range f.arena.Entities() {
		if e.Interfaced().Name() == path {
			return e, true
		}
	}
	return nil, false
}

func (f fakeEnv) Entity(id object.ID) (object.Entity, bool) { return f.arena.Get(id) }

func (f fakeEnv) IsA(class, base string) bool { return f.classes.IsA(class, base) }

const gev = 1000.0

type fixture struct {
	reg   *Registry
	env   fakeEnv
	cutA  *cut
	cutB  *tightCut
	alien *other
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	classes := classdesc.NewRegistry()
	for _, err := range []error{
		classdesc.Register(classes, classdesc.Class[cutView]{Name: "Cut", New: func() object.Entity { return &cut{} }}),
		classdesc.Register(classes, classdesc.Class[*tightCut]{Name: "TightCut", Bases: []string{"Cut"}, New: func() object.Entity { return &tightCut{} }}),
		classdesc.Register(classes, classdesc.Class[*other]{Name: "Other", New: func() object.Entity { return &other{} }}),
	} {
		if err != nil {
			t.Fatalf("register class: %v", err)
		}
	}
	reg := NewRegistry(classes)
	err := reg.Register("Cut",
		&Parameter[cutView, float64]{
			Name:    "Value",
			Field:   func(c cutView) *float64 { return &c.cutState().Value },
			Default: 10 * gev,
			Min:     0,
			Max:     100 * gev,
			Limits:  Limited,
			Unit:    gev,
		},
		&Parameter[cutView, int64]{
			Name:           "Events",
			Field:          func(c cutView) *int64 { return &c.cutState().Events },
			Default:        100,
			Min:            1,
			Limits:         LowerLim,
			DependencySafe: true,
		},
		&Switch[cutView, int]{
			Name:    "Mode",
			Field:   func(c cutView) *int { return &c.cutState().Mode },
			Default: 0,
			Options: []Option[int]{{Name: "Off", Value: 0}, {Name: "Soft", Value: 1}, {Name: "Hard", Value: 2}},
		},
		&StringParameter[cutView]{
			Name:    "Label",
			Field:   func(c cutView) *string { return &c.cutState().Label },
			Default: "none",
		},
		&Reference[cutView]{
			Name:     "Next",
			Class:    "Cut",
			Field:    func(c cutView) *object.ID { return &c.cutState().Next },
			Nullable: true,
		},
		&RefVector[cutView]{
			Name:  "Chain",
			Class: "Cut",
			Field: func(c cutView) *[]object.ID { return &c.cutState().Chain },
		},
	)
	if err != nil {
		t.Fatalf("register interfaces: %v", err)
	}
	err = reg.Register("TightCut", &Parameter[cutView, float64]{
		Name:   "Value",
		Field:  func(c cutView) *float64 { return &c.cutState().Value },
		Min:    50 * gev,
		Max:    100 * gev,
		Limits: Limited,
		Unit:   gev,
	})
	if err != nil {
		t.Fatalf("register override: %v", err)
	}
	arena := object.NewArena()
	f := &fixture{reg: reg, env: fakeEnv{classes: classes, arena: arena}}
	f.cutA = &cut{}
	f.cutA.SetClassName("Cut")
	f.cutA.SetName("/Cuts/A")
	f.cutB = &tightCut{}
	f.cutB.SetClassName("TightCut")
	f.cutB.SetName("/Cuts/B")
	f.alien = &other{}
	f.alien.SetClassName("Other")
	f.alien.SetName("/Misc/X")
	arena.Add(f.cutA)
	arena.Add(f.cutB)
	arena.Add(f.alien)
	return f
}

func (f *fixture) exec(e object.Entity, name, action, args string) (string, error) {
	return f.reg.Exec(f.env, e, name, Call{Action: action, Index: NoIndex, Args: args})
}

func TestParameterSetGetWithUnit(t *testing.T) {
	f := newFixture(t)
	if _, err := f.exec(f.cutA, "Value", ActionSet, "25.5"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if f.cutA.Value != 25.5*gev {
		t.Fatalf("expected stored value in internal units, got %v", f.cutA.Value)
	}
	if got, _ := f.exec(f.cutA, "Value", ActionGet, ""); got != "25.5" {
		t.Fatalf("expected 25.5, got %q", got)
	}
	if got, _ := f.exec(f.cutA, "Value", ActionMax, ""); got != "100" {
		t.Fatalf("expected max 100, got %q", got)
	}
	if got, _ := f.exec(f.cutA, "Events", ActionMax, ""); got != "unlimited" {
		t.Fatalf("expected unlimited max, got %q", got)
	}
	if !f.cutA.Touched() {
		t.Fatalf("dependency-unsafe set must touch the target")
	}
	f.cutA.Untouch()
	if _, err := f.exec(f.cutA, "Events", ActionSet, "42"); err != nil || f.cutA.Events != 42 {
		t.Fatalf("set events: %v", err)
	}
	if f.cutA.Touched() {
		t.Fatalf("dependency-safe set must not touch")
	}
	if _, err := f.exec(f.cutA, "Value", ActionSetDef, ""); err != nil || f.cutA.Value != 10*gev {
		t.Fatalf("setdef: %v value=%v", err, f.cutA.Value)
	}
}

func TestParameterOutOfRangeLeavesValueUnchanged(t *testing.T) {
	f := newFixture(t)
	f.cutA.Value = 5 * gev
	for _, args := range []string{"150", "-1", "abc", "NaN", "nan"} {
		_, err := f.exec(f.cutA, "Value", ActionSet, args)
		var ie object.InterfaceError
		if !errors.As(err, &ie) || err.Error() == "" {
			t.Fatalf("expected interface error for %q, got %v", args, err)
		}
		if f.cutA.Value != 5*gev {
			t.Fatalf("value changed by rejected set %q: %v", args, f.cutA.Value)
		}
	}
	if f.cutA.Touched() {
		t.Fatalf("rejected set must not touch")
	}
}

func TestDerivedOverrideWins(t *testing.T) {
	f := newFixture(t)
	if _, err := f.exec(f.cutB, "Value", ActionSet, "20"); err == nil {
		t.Fatalf("expected derived minimum to reject 20")
	}
	if _, err := f.exec(f.cutB, "Value", ActionSet, "60"); err != nil || f.cutB.Value != 60*gev {
		t.Fatalf("set on derived: %v", err)
	}
	if _, err := f.exec(f.cutB, "Mode", ActionSet, "Hard"); err != nil || f.cutB.Mode != 2 {
		t.Fatalf("inherited switch on derived: %v", err)
	}
	names := map[string]int{}
	for _, d := range f.reg.All("TightCut") {
		names[d.Info().Name]++
	}
	if names["Value"] != 1 || names["Comment"] != 1 || names["Chain"] != 1 {
		t.Fatalf("unexpected visible interfaces %v", names)
	}
	d, ok := f.reg.Find("TightCut", "Value")
	if !ok || d.Info().Class != "TightCut" {
		t.Fatalf("expected override owned by TightCut")
	}
}

func TestSwitchRejectsUnknownOption(t *testing.T) {
	f := newFixture(t)
	if _, err := f.exec(f.cutA, "Mode", ActionSet, "1"); err != nil || f.cutA.Mode != 1 {
		t.Fatalf("set by value: %v", err)
	}
	if got, _ := f.exec(f.cutA, "Mode", ActionGet, ""); got != "Soft" {
		t.Fatalf("expected option name, got %q", got)
	}
	for _, args := range []string{"Extreme", "7"} {
		if _, err := f.exec(f.cutA, "Mode", ActionSet, args); err == nil {
			t.Fatalf("expected %q rejected", args)
		}
	}
	if f.cutA.Mode != 1 {
		t.Fatalf("rejected switch set mutated state")
	}
	if got, err := f.exec(f.cutA, "Mode", ActionMin, ""); err != nil || got != "Off" {
		t.Fatalf("min: %q %v", got, err)
	}
	if got, err := f.exec(f.cutA, "Mode", ActionMax, ""); err != nil || got != "Hard" {
		t.Fatalf("max: %q %v", got, err)
	}
}

func TestStringParameter(t *testing.T) {
	f := newFixture(t)
	if _, err := f.exec(f.cutA, "Label", ActionSet, "jets"); err != nil || f.cutA.Label != "jets" {
		t.Fatalf("set label: %v", err)
	}
	if got, _ := f.exec(f.cutA, "Label", ActionDef, ""); got != "none" {
		t.Fatalf("unexpected default %q", got)
	}
	if _, err := f.exec(f.cutA, "Label", ActionMin, ""); err == nil {
		t.Fatalf("expected min unsupported on strings")
	}
}

func TestReferenceTypeCheckAndNullability(t *testing.T) {
	f := newFixture(t)
	if _, err := f.exec(f.cutA, "Next", ActionSet, "/Cuts/B"); err != nil || f.cutA.Next != f.cutB.ID() {
		t.Fatalf("set reference: %v", err)
	}
	if got, _ := f.exec(f.cutA, "Next", ActionGet, ""); got != "/Cuts/B" {
		t.Fatalf("expected path, got %q", got)
	}
	if _, err := f.exec(f.cutA, "Next", ActionSet, "/Misc/X"); err == nil {
		t.Fatalf("expected class check to reject Other")
	}
	if _, err := f.exec(f.cutA, "Next", ActionSet, "/Nowhere"); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if f.cutA.Next != f.cutB.ID() {
		t.Fatalf("failed sets mutated the reference")
	}
	if _, err := f.exec(f.cutA, "Next", ActionSet, "NULL"); err != nil || !f.cutA.Next.IsNil() {
		t.Fatalf("nullable reference should accept NULL: %v", err)
	}
}

func TestRefVectorEditing(t *testing.T) {
	f := newFixture(t)
	call := func(action string, idx int, args string) error {
		_, err := f.reg.Exec(f.env, f.cutA, "Chain", Call{Action: action, Index: idx, Args: args})
		return err
	}
	if err := call(ActionInsert, NoIndex, "/Cuts/B"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := call(ActionInsert, 0, "/Cuts/A"); err != nil {
		t.Fatalf("insert front: %v", err)
	}
	if len(f.cutA.Chain) != 2 || f.cutA.Chain[0] != f.cutA.ID() {
		t.Fatalf("unexpected chain %v", f.cutA.Chain)
	}
	shared := f.cutA.Chain
	if err := call(ActionSet, 1, "/Cuts/A"); err != nil {
		t.Fatalf("set element: %v", err)
	}
	if shared[1] != f.cutB.ID() {
		t.Fatalf("vector mutation must not write through a shared backing array")
	}
	if err := call(ActionSet, 5, "/Cuts/A"); err == nil {
		t.Fatalf("expected out of range")
	}
	if err := call(ActionSet, 0, "NULL"); err == nil {
		t.Fatalf("expected non-nullable vector to reject NULL")
	}
	got, _ := f.reg.Exec(f.env, f.cutA, "Chain", Call{Action: ActionGet, Index: NoIndex})
	if got != "/Cuts/A\n/Cuts/A" {
		t.Fatalf("unexpected listing %q", got)
	}
	if err := call(ActionErase, 0, ""); err != nil || len(f.cutA.Chain) != 1 {
		t.Fatalf("erase: %v", err)
	}
	if err := call(ActionClear, NoIndex, ""); err != nil || len(f.cutA.Chain) != 0 {
		t.Fatalf("clear: %v", err)
	}
}

func TestLockedAndReadOnly(t *testing.T) {
	f := newFixture(t)
	f.cutA.Lock()
	if _, err := f.exec(f.cutA, "Value", ActionSet, "1"); !errors.Is(err, object.ErrLocked) {
		t.Fatalf("expected locked rejection, got %v", err)
	}
	if _, err := f.exec(f.cutA, "Value", ActionGet, ""); err != nil {
		t.Fatalf("reads are allowed on locked objects: %v", err)
	}
	if _, err := f.exec(f.cutA, "GetComment", ActionDo, ""); err != nil {
		t.Fatalf("read-only command on locked object: %v", err)
	}
	f.cutA.Unlock()
	ro := &Parameter[cutView, int64]{Name: "Frozen", Field: func(c cutView) *int64 { return &c.cutState().Events }, ReadOnly: true}
	if _, err := ro.Exec(f.env, f.cutA, Call{Action: ActionSet, Index: NoIndex, Args: "3"}); err == nil {
		t.Fatalf("expected read-only rejection")
	}
}

func TestRootCommands(t *testing.T) {
	f := newFixture(t)
	if _, err := f.exec(f.alien, "Comment", ActionDo, "first"); err != nil {
		t.Fatalf("comment: %v", err)
	}
	f.exec(f.alien, "Comment", ActionDo, "second")
	if got, _ := f.exec(f.alien, "GetComment", ActionDo, ""); got != "first\nsecond" {
		t.Fatalf("unexpected comment %q", got)
	}
	if f.alien.Touched() {
		t.Fatalf("comment is dependency-safe")
	}
	f.exec(f.alien, "Touch", ActionDo, "")
	if !f.alien.Touched() {
		t.Fatalf("touch command must set the dirty bit")
	}
	if _, err := f.exec(f.alien, "Value", ActionGet, ""); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected missing interface, got %v", err)
	}
}

func TestRegisterRejectsDuplicatesAndUnknownClasses(t *testing.T) {
	f := newFixture(t)
	var setup object.SetupError
	err := f.reg.Register("Cut", &Command[cutView]{Name: "Value", Handler: func(cutView, string) (string, error) { return "", nil }})
	if !errors.As(err, &setup) || !errors.Is(err, object.ErrExists) {
		t.Fatalf("expected duplicate setup error, got %v", err)
	}
	err = f.reg.Register("Ghost", &Command[cutView]{Name: "Go", Handler: func(cutView, string) (string, error) { return "", nil }})
	if !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected unknown class, got %v", err)
	}
	err = f.reg.Register("Other", &Switch[cutView, int]{Name: "Broken", Field: func(c cutView) *int { return &c.cutState().Mode }})
	if !errors.As(err, &setup) {
		t.Fatalf("expected invalid switch rejected, got %v", err)
	}
	shared := &Command[cutView]{Name: "Shared", Handler: func(cutView, string) (string, error) { return "", nil }}
	if err := f.reg.Register("Cut", shared); err != nil {
		t.Fatalf("register shared: %v", err)
	}
	if err := f.reg.Register("Other", shared); !errors.As(err, &setup) {
		t.Fatalf("expected descriptor reuse across classes rejected, got %v", err)
	}
}

func TestReferencesRebindAndUnlink(t *testing.T) {
	f := newFixture(t)
	f.cutA.Next = f.cutB.ID()
	f.cutA.Chain = []object.ID{f.cutB.ID(), f.cutA.ID()}
	refs := f.reg.References(f.cutA)
	if len(refs) != 2 {
		t.Fatalf("expected two distinct targets, got %v", refs)
	}

	clone := f.cutA.Clone().(*cut)
	tm := object.TranslationMap{f.cutA.ID(): 100, f.cutB.ID(): 200}
	if err := f.reg.Rebind(clone, Rebinding{Map: tm}); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if clone.Next != 200 || clone.Chain[0] != 200 || clone.Chain[1] != 100 {
		t.Fatalf("unexpected rebound clone %+v", clone)
	}
	if f.cutA.Chain[0] != f.cutB.ID() {
		t.Fatalf("rebind wrote through to the original")
	}

	partial := f.cutA.Clone().(*cut)
	err := f.reg.Rebind(partial, Rebinding{Map: object.TranslationMap{f.cutA.ID(): 100}})
	var rbe object.RebindError
	if !errors.As(err, &rbe) || rbe.Target != f.cutB.ID() {
		t.Fatalf("expected rebind error naming the missing target, got %v", err)
	}
	if err := f.reg.Rebind(f.cutA.Clone(), Rebinding{Map: object.TranslationMap{}, KeepExternal: true}); err != nil {
		t.Fatalf("keep external: %v", err)
	}

	if !f.reg.Unlink(f.cutA, f.cutB.ID()) {
		t.Fatalf("expected unlink to report a change")
	}
	if !f.cutA.Next.IsNil() || !f.cutA.Chain[0].IsNil() || f.cutA.Chain[1] != f.cutA.ID() {
		t.Fatalf("unexpected state after unlink %+v", f.cutA)
	}
}

func TestDefaultIfNull(t *testing.T) {
	classes := classdesc.NewRegistry()
	if err := classdesc.Register(classes, classdesc.Class[*cut]{Name: "Cut", New: func() object.Entity { return &cut{} }}); err != nil {
		t.Fatalf("register: %v", err)
	}
	reg := NewRegistry(classes)
	if err := reg.Register("Cut", &Reference[*cut]{
		Name:          "Next",
		Class:         "Cut",
		Field:         func(c *cut) *object.ID { return &c.Next },
		DefaultIfNull: true,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	def := func(class string) (object.ID, bool) {
		if class == "Cut" {
			return 77, true
		}
		return object.Nil, false
	}
	c := &cut{Next: 5}
	c.SetClassName("Cut")
	if err := reg.Rebind(c, Rebinding{Map: object.TranslationMap{}, Default: def}); err != nil || c.Next != 77 {
		t.Fatalf("expected default binding on miss: %v next=%v", err, c.Next)
	}
	empty := &cut{}
	empty.SetClassName("Cut")
	if !reg.BindDefaults(empty, def) || empty.Next != 77 {
		t.Fatalf("expected null reference bound to default")
	}
	if reg.BindDefaults(empty, def) {
		t.Fatalf("non-null reference must not be rebound")
	}
	if !strings.Contains(reg.All("Cut")[len(reg.All("Cut"))-1].Info().Class, object.RootClass) {
		t.Fatalf("expected root interfaces last in visibility order")
	}
}

func TestIfaceDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "pkg/iface is a public leaf")
}
