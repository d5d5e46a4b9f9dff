package repository

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"evgenkit/pkg/iface"
	"evgenkit/pkg/object"
)

// ErrSyntax reports a command line that could not be parsed.
var ErrSyntax = errors.New("syntax error")

var interfaceActions = map[string]bool{
	iface.ActionSet:    true,
	iface.ActionGet:    true,
	iface.ActionMin:    true,
	iface.ActionMax:    true,
	iface.ActionDef:    true,
	iface.ActionSetDef: true,
	iface.ActionInsert: true,
	iface.ActionErase:  true,
	iface.ActionClear:  true,
	iface.ActionDo:     true,
}

// Exec runs one command line and returns its textual result. Blank lines and
// lines starting with '#' are ignored.
func (r *Repository) Exec(ctx context.Context, line string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exec(ctx, line)
}

// ExecScript runs every line of src in order and stops at the first failure,
// reporting its line number. It returns the non-empty results.
func (r *Repository) ExecScript(ctx context.Context, src io.Reader) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	sc := bufio.NewScanner(src)
	for n := 1; sc.Scan(); n++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := r.exec(ctx, sc.Text())
		if err != nil {
			return out, fmt.Errorf("line %d: %w", n, err)
		}
		if res != "" {
			out = append(out, res)
		}
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("read script: %w", err)
	}
	return out, nil
}

func (r *Repository) exec(ctx context.Context, line string) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", nil
	}
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	if interfaceActions[verb] {
		return r.execInterface(verb, rest)
	}
	switch verb {
	case "mkdir":
		if len(args) != 1 {
			return "", usage("mkdir <dir>")
		}
		return "", r.mkdir(args[0])
	case "cd":
		if len(args) > 1 {
			return "", usage("cd [dir]")
		}
		dir := "/"
		if len(args) == 1 {
			dir = args[0]
		}
		return "", r.cd(dir)
	case "pwd":
		return r.cwd, nil
	case "ls":
		if len(args) > 1 {
			return "", usage("ls [dir]")
		}
		dir := ""
		if len(args) == 1 {
			dir = args[0]
		}
		entries, err := r.list(dir)
		if err != nil {
			return "", err
		}
		return strings.Join(entries, "\n"), nil
	case "create":
		if len(args) < 2 || len(args) > 3 {
			return "", usage("create <class> <path> [library]")
		}
		library := ""
		if len(args) == 3 {
			library = args[2]
		}
		_, err := r.create(args[0], args[1], library)
		return "", err
	case "cp":
		if len(args) != 2 {
			return "", usage("cp <src> <dst>")
		}
		_, err := r.copyObject(args[0], args[1])
		return "", err
	case "mv":
		if len(args) != 2 {
			return "", usage("mv <src> <dst>")
		}
		return "", r.rename(args[0], args[1])
	case "rm", "rmf":
		if len(args) == 0 {
			return "", usage(verb + " <path>...")
		}
		for _, p := range args {
			if err := r.remove(p, verb == "rmf"); err != nil {
				return "", err
			}
		}
		return "", nil
	case "setdefault":
		if len(args) != 2 {
			return "", usage("setdefault <class> <path>")
		}
		return "", r.setDefault(args[0], args[1])
	case "lock", "unlock":
		if len(args) != 1 {
			return "", usage(verb + " <path>")
		}
		e, ok := r.g.Resolve(r.abs(args[0]))
		if !ok {
			return "", fmt.Errorf("%s %s: %w", verb, r.abs(args[0]), object.ErrNotFound)
		}
		if verb == "lock" {
			e.Interfaced().Lock()
		} else {
			e.Interfaced().Unlock()
		}
		return "", nil
	case "classes":
		var lines []string
		for _, d := range r.g.classes.Classes() {
			lines = append(lines, fmt.Sprintf("%s %s v%d", d.Name(), libraryLabel(d.Library()), d.Version()))
		}
		return strings.Join(lines, "\n"), nil
	case "describe":
		if len(args) != 1 {
			return "", usage("describe <obj>[:<interface>]")
		}
		return r.describe(args[0])
	case "update":
		n, err := r.g.update(ctx)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(n), nil
	}
	return "", fmt.Errorf("unknown command %q: %w", verb, ErrSyntax)
}

func usage(form string) error {
	return fmt.Errorf("usage: %s: %w", form, ErrSyntax)
}

func libraryLabel(lib string) string {
	if lib == "" {
		return "(builtin)"
	}
	return lib
}

// target is the parsed form of obj:interface[idx].
type target struct {
	path  string
	name  string
	index int
}

func parseTarget(s string) (target, error) {
	path, rest, ok := strings.Cut(s, ":")
	if !ok || path == "" || rest == "" {
		return target{}, fmt.Errorf("target %q must be <obj>:<interface>: %w", s, ErrSyntax)
	}
	t := target{path: path, name: rest, index: iface.NoIndex}
	if open := strings.IndexByte(rest, '['); open >= 0 {
		if !strings.HasSuffix(rest, "]") || open == 0 {
			return target{}, fmt.Errorf("target %q: malformed index: %w", s, ErrSyntax)
		}
		idx, err := strconv.Atoi(rest[open+1 : len(rest)-1])
		if err != nil || idx < 0 {
			return target{}, fmt.Errorf("target %q: index must be a non-negative integer: %w", s, ErrSyntax)
		}
		t.name, t.index = rest[:open], idx
	}
	return t, nil
}

func (r *Repository) execInterface(action, rest string) (string, error) {
	spec, args, _ := strings.Cut(rest, " ")
	if spec == "" {
		return "", usage(action + " <obj>:<interface>[idx] [args]")
	}
	t, err := parseTarget(spec)
	if err != nil {
		return "", err
	}
	e, ok := r.g.Resolve(r.abs(t.path))
	if !ok {
		return "", fmt.Errorf("%s %s: %w", action, r.abs(t.path), object.ErrNotFound)
	}
	return r.g.ifaces.Exec(scope{r}, e, t.name, iface.Call{Action: action, Index: t.index, Args: strings.TrimSpace(args)})
}

func (r *Repository) describe(spec string) (string, error) {
	p, name, _ := strings.Cut(spec, ":")
	e, ok := r.g.Resolve(r.abs(p))
	if !ok {
		return "", fmt.Errorf("describe %s: %w", r.abs(p), object.ErrNotFound)
	}
	class := e.Interfaced().ClassName()
	if name != "" {
		d, ok := r.g.ifaces.Find(class, name)
		if !ok {
			return "", fmt.Errorf("describe %s: interface %q: %w", r.abs(p), name, object.ErrNotFound)
		}
		info := d.Info()
		return fmt.Sprintf("%s (%s, declared by %s): %s", info.Name, info.Kind, info.Class, info.Description), nil
	}
	b := e.Interfaced()
	lines := []string{fmt.Sprintf("%s [%s] %s", b.Name(), class, b.State())}
	for _, d := range r.g.ifaces.All(class) {
		info := d.Info()
		if info.Kind == iface.KindCommand {
			lines = append(lines, fmt.Sprintf("  %s (command)", info.Name))
			continue
		}
		val, err := d.Exec(scope{r}, e, iface.Call{Action: iface.ActionGet, Index: iface.NoIndex})
		if err != nil {
			val = "<" + err.Error() + ">"
		}
		lines = append(lines, fmt.Sprintf("  %s (%s) = %s", info.Name, info.Kind, strings.ReplaceAll(val, "\n", ", ")))
	}
	return strings.Join(lines, "\n"), nil
}
