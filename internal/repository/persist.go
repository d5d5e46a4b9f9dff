package repository

import (
	"errors"
	"fmt"
	"io"
	"path"
	"sort"

	"evgenkit/internal/stream"
	"evgenkit/pkg/object"
)

const (
	repositoryKind = "repository"
	runKind        = "run"
	layoutVersion  = 1
)

// Save streams the whole repository: directories, current directory, every
// entity and the class defaults.
func (r *Repository) Save(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sw := stream.NewWriter(w, r.g.classes, r.g.arena.Get)
	sw.WriteString(repositoryKind)
	sw.WriteUint(layoutVersion)
	dirs := make([]string, 0, len(r.dirs))
	for d := range r.dirs {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	sw.WriteStrings(dirs)
	sw.WriteString(r.cwd)
	writeGraph(sw, r.g)
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("save repository: %w", err)
	}
	r.log.Debug().Int("objects", sw.Written()).Msg("repository saved")
	return nil
}

// Load replaces the repository contents with a stream written by Save. The
// current contents survive any failure.
func (r *Repository) Load(rd io.Reader) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := newGraph(r.g.classes, r.g.ifaces)
	sr := stream.NewReader(rd, g.classes, g.arena)
	if err := expectHeader(sr, repositoryKind); err != nil {
		return fmt.Errorf("load repository: %w", err)
	}
	dirs := map[string]bool{"/": true}
	for _, d := range sr.ReadStrings() {
		if d != path.Clean(d) || !path.IsAbs(d) {
			return fmt.Errorf("load repository: invalid directory %q", d)
		}
		dirs[d] = true
	}
	cwd := sr.ReadString()
	if err := readGraph(sr, g); err != nil {
		return fmt.Errorf("load repository: %w", err)
	}
	if !dirs[cwd] {
		return fmt.Errorf("load repository: current directory %q does not exist", cwd)
	}
	for name := range g.names {
		if !dirs[path.Dir(name)] {
			return fmt.Errorf("load repository: %s has no parent directory", name)
		}
		if dirs[name] {
			return fmt.Errorf("load repository: %s is both a directory and an object", name)
		}
	}
	r.g, r.dirs, r.cwd = g, dirs, cwd
	r.log.Debug().Int("objects", g.arena.Len()).Msg("repository loaded")
	return nil
}

func expectHeader(sr *stream.Reader, kind string) error {
	got := sr.ReadString()
	layout := sr.ReadUint()
	if err := sr.Err(); err != nil {
		return err
	}
	if got != kind {
		return fmt.Errorf("stream holds a %q, not a %q", got, kind)
	}
	if layout != layoutVersion {
		return fmt.Errorf("layout version %d is not supported", layout)
	}
	return nil
}

func writeGraph(sw *stream.Writer, g *graph) {
	sw.WriteRefs(g.arena.IDs())
	classes := make([]string, 0, len(g.defaults))
	for class := range g.defaults {
		if _, ok := g.defaultFor(class); ok {
			classes = append(classes, class)
		}
	}
	sort.Strings(classes)
	sw.WriteUint(uint64(len(classes)))
	for _, class := range classes {
		sw.WriteString(class)
		sw.WriteRef(g.defaults[class])
	}
}

// readGraph fills an empty graph from sr. On failure the graph is left
// empty.
func readGraph(sr *stream.Reader, g *graph) error {
	ids := sr.ReadRefs()
	n := sr.ReadUint()
	defaults := make(map[string]object.ID)
	for i := uint64(0); i < n && sr.Err() == nil; i++ {
		class := sr.ReadString()
		defaults[class] = sr.ReadRef()
	}
	if err := sr.Err(); err != nil {
		sr.Discard()
		return err
	}
	for _, id := range ids {
		e, ok := g.arena.Get(id)
		if !ok {
			sr.Discard()
			return errors.New("entity list references a missing object")
		}
		name := e.Interfaced().Name()
		if name == "" || !path.IsAbs(name) || path.Clean(name) != name {
			sr.Discard()
			return fmt.Errorf("object %s has invalid name %q", id, name)
		}
		if _, dup := g.names[name]; dup {
			sr.Discard()
			return fmt.Errorf("duplicate object name %s: %w", name, object.ErrExists)
		}
		g.names[name] = id
	}
	if len(g.names) != g.arena.Len() {
		sr.Discard()
		return errors.New("stream holds objects outside the entity list")
	}
	g.defaults = defaults
	return nil
}
