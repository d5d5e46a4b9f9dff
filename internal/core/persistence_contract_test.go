package core

import (
	"go/types"
	"sort"
	"testing"

	"golang.org/x/tools/go/packages"
)

// Only the infra persistence packages may provide concrete snapshot stores.
// A new backend needs an explicit update of the allowed list.
func TestSnapshotStoreImplementationsHardening(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedTypes, Tests: true}
	pkgs, err := packages.Load(cfg, "evgenkit/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	var snapshotStore *types.Interface
	for _, p := range pkgs {
		if p.PkgPath != "evgenkit/pkg/object" || p.Types == nil {
			continue
		}
		obj := p.Types.Scope().Lookup("SnapshotStore")
		if obj == nil {
			t.Fatalf("object.SnapshotStore not found")
		}
		iface, ok := obj.Type().Underlying().(*types.Interface)
		if !ok {
			t.Fatalf("object.SnapshotStore is not an interface")
		}
		snapshotStore = iface
		break
	}
	if snapshotStore == nil {
		t.Fatalf("failed to resolve SnapshotStore interface")
	}
	allowed := map[string]bool{
		"evgenkit/internal/infra/persistence/memory":   true,
		"evgenkit/internal/infra/persistence/sqlite":   true,
		"evgenkit/internal/infra/persistence/postgres": true,
	}
	found := make(map[string]bool)
	var unexpected []string
	for _, p := range pkgs {
		if p.Types == nil {
			continue
		}
		scope := p.Types.Scope()
		for _, name := range scope.Names() {
			named, ok := scope.Lookup(name).Type().(*types.Named)
			if !ok {
				continue
			}
			if _, isStruct := named.Underlying().(*types.Struct); !isStruct {
				continue
			}
			if !types.Implements(types.NewPointer(named), snapshotStore) {
				continue
			}
			if allowed[p.PkgPath] {
				found[p.PkgPath] = true
				continue
			}
			unexpected = append(unexpected, p.PkgPath+"."+name)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		t.Fatalf("unexpected SnapshotStore implementations: %v", unexpected)
	}
	for pkg := range allowed {
		if !found[pkg] {
			t.Fatalf("%s no longer implements SnapshotStore", pkg)
		}
	}
}
