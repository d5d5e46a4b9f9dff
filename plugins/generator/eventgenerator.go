package generator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"evgenkit/pkg/iface"
	"evgenkit/pkg/object"
)

// Debug levels.
const (
	DebugNone = iota
	DebugSummary
	DebugFull
)

// EventGenerator drives a run: it pushes NumberOfEvents events through its
// handler chain and hands accepted ones to its analyses.
type EventGenerator struct {
	object.Base
	NumberOfEvents int64
	MaxErrors      int
	DebugLevel     int
	EventHandler   object.ID
	Analyses       []object.ID
	PrintEvents    string

	Generated int64
	Accepted  int64
	Errors    int
	Log       []string

	marked map[int64]bool
}

// Clone implements object.Entity.
func (g *EventGenerator) Clone() object.Entity {
	cp := *g
	cp.Analyses = slices.Clone(g.Analyses)
	cp.Log = slices.Clone(g.Log)
	cp.marked = nil
	return &cp
}

// parsePrintEvents reads a comma separated list of event numbers.
func parsePrintEvents(s string) (map[int64]bool, error) {
	out := make(map[int64]bool)
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.ParseInt(field, 10, 64)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("PrintEvents: invalid event number %q", field)
		}
		out[n] = true
	}
	return out, nil
}

func (g *EventGenerator) resolve(env iface.Env) (handlerView, []*Analysis, error) {
	e, ok := env.Entity(g.EventHandler)
	if !ok {
		return nil, nil, errors.New("no event handler")
	}
	h, ok := e.(handlerView)
	if !ok {
		return nil, nil, fmt.Errorf("%s is not a handler", e.Interfaced().Name())
	}
	analyses := make([]*Analysis, 0, len(g.Analyses))
	for _, id := range g.Analyses {
		e, ok := env.Entity(id)
		if !ok {
			return nil, nil, fmt.Errorf("analysis %s missing", id)
		}
		a, ok := e.(*Analysis)
		if !ok {
			return nil, nil, fmt.Errorf("%s is not an analysis", e.Interfaced().Name())
		}
		analyses = append(analyses, a)
	}
	return h, analyses, nil
}

// DoInit checks the setup is runnable.
func (g *EventGenerator) DoInit(ctx context.Context) error {
	marked, err := parsePrintEvents(g.PrintEvents)
	if err != nil {
		return err
	}
	g.marked = marked
	env, ok := iface.FromContext(ctx)
	if !ok {
		return errors.New("no namespace in context")
	}
	_, _, err = g.resolve(env)
	return err
}

// DoInitRun clears the results of a previous run.
func (g *EventGenerator) DoInitRun(context.Context) error {
	g.Generated, g.Accepted, g.Errors = 0, 0, 0
	g.Log = nil
	return nil
}

// Drive generates the events. It stops early when ctx is cancelled or the
// number of failed events exceeds MaxErrors.
func (g *EventGenerator) Drive(ctx context.Context) error {
	env, ok := iface.FromContext(ctx)
	if !ok {
		return errors.New("no namespace in context")
	}
	handler, analyses, err := g.resolve(env)
	if err != nil {
		return err
	}
	if g.marked == nil {
		if g.marked, err = parsePrintEvents(g.PrintEvents); err != nil {
			return err
		}
	}
	for n := int64(1); n <= g.NumberOfEvents; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		g.Generated++
		weight, accepted, err := process(env, handler, n)
		if err != nil {
			g.Errors++
			if g.DebugLevel >= DebugFull {
				g.Log = append(g.Log, err.Error())
			}
			if g.Errors > g.MaxErrors {
				return fmt.Errorf("%s: too many failed events (%d): %w", g.Name(), g.Errors, err)
			}
			continue
		}
		if !accepted {
			continue
		}
		g.Accepted++
		for _, a := range analyses {
			a.analyze(weight)
		}
		if g.marked[n] || g.DebugLevel >= DebugFull {
			g.Log = append(g.Log, fmt.Sprintf("event %d: energy=%g GeV weight=%g", n, eventEnergy(n)/GeV, weight))
		}
	}
	return nil
}

// DoFinish records the run summary.
func (g *EventGenerator) DoFinish(context.Context) error {
	if g.DebugLevel >= DebugSummary {
		g.Log = append(g.Log, fmt.Sprintf("generated=%d accepted=%d errors=%d", g.Generated, g.Accepted, g.Errors))
	}
	return nil
}

func generatorOutput(g *EventGenerator, out object.OutputStream) error {
	out.WriteInt(g.NumberOfEvents)
	out.WriteInt(int64(g.MaxErrors))
	out.WriteInt(int64(g.DebugLevel))
	out.WriteRef(g.EventHandler)
	out.WriteRefs(g.Analyses)
	out.WriteString(g.PrintEvents)
	out.WriteInt(g.Generated)
	out.WriteInt(g.Accepted)
	out.WriteInt(int64(g.Errors))
	out.WriteStrings(g.Log)
	return out.Err()
}

func generatorInput(g *EventGenerator, in object.InputStream, _ int) error {
	g.NumberOfEvents = in.ReadInt()
	g.MaxErrors = int(in.ReadInt())
	g.DebugLevel = int(in.ReadInt())
	g.EventHandler = in.ReadRef()
	g.Analyses = in.ReadRefs()
	g.PrintEvents = in.ReadString()
	g.Generated = in.ReadInt()
	g.Accepted = in.ReadInt()
	g.Errors = int(in.ReadInt())
	g.Log = in.ReadStrings()
	return in.Err()
}

func generatorInterfaces() []iface.Descriptor {
	return []iface.Descriptor{
		&iface.Parameter[*EventGenerator, int64]{
			Name:        "NumberOfEvents",
			Description: "Events generated per run.",
			Field:       func(g *EventGenerator) *int64 { return &g.NumberOfEvents },
			Default:     1000,
			Limits:      iface.LowerLim,
		},
		&iface.Parameter[*EventGenerator, int]{
			Name:        "MaxErrors",
			Description: "Failed events tolerated before the run aborts.",
			Field:       func(g *EventGenerator) *int { return &g.MaxErrors },
			Default:     10,
			Limits:      iface.LowerLim,
		},
		&iface.Switch[*EventGenerator, int]{
			Name:           "DebugLevel",
			Description:    "Amount of detail recorded in the run log.",
			Field:          func(g *EventGenerator) *int { return &g.DebugLevel },
			DependencySafe: true,
			Options: []iface.Option[int]{
				{Name: "None", Description: "No log.", Value: DebugNone},
				{Name: "Summary", Description: "Run summary only.", Value: DebugSummary},
				{Name: "Full", Description: "Every event and failure.", Value: DebugFull},
			},
		},
		&iface.Reference[*EventGenerator]{
			Name:          "EventHandler",
			Description:   "First handler of the chain.",
			Class:         "Handler",
			DefaultIfNull: true,
			Field:         func(g *EventGenerator) *object.ID { return &g.EventHandler },
		},
		&iface.RefVector[*EventGenerator]{
			Name:        "Analyses",
			Description: "Analyses receiving accepted events.",
			Class:       "Analysis",
			Field:       func(g *EventGenerator) *[]object.ID { return &g.Analyses },
		},
		&iface.StringParameter[*EventGenerator]{
			Name:           "PrintEvents",
			Description:    "Comma separated event numbers logged in full.",
			DependencySafe: true,
			Field:          func(g *EventGenerator) *string { return &g.PrintEvents },
			Set: func(g *EventGenerator, s string) error {
				if _, err := parsePrintEvents(s); err != nil {
					return err
				}
				g.PrintEvents = s
				g.marked = nil
				return nil
			},
		},
		&iface.Command[*EventGenerator]{
			Name:        "PrintLog",
			Description: "Print the log of the last run.",
			ReadOnly:    true,
			Handler: func(g *EventGenerator, _ string) (string, error) {
				return strings.Join(g.Log, "\n"), nil
			},
		},
	}
}
