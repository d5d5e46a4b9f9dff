package generator

import (
	"fmt"

	"evgenkit/pkg/iface"
	"evgenkit/pkg/object"
)

// Energy units; quantities are stored in MeV.
const (
	MeV = 1.0
	GeV = 1000 * MeV
)

// Handler modes.
const (
	ModePassAll = iota
	ModeVeto
	ModeStrict
)

// Handler accepts or vetoes events against an energy cut and hands accepted
// events to the next handler in its chain.
type Handler struct {
	object.Base
	Cut  float64
	Mode int
	Next object.ID
}

// Clone implements object.Entity.
func (h *Handler) Clone() object.Entity { cp := *h; return &cp }

func (h *Handler) handler() *Handler { return h }

func (h *Handler) weight() float64 { return 1 }

// handlerView is implemented by Handler and every class embedding it.
type handlerView interface {
	object.Entity
	handler() *Handler
	weight() float64
}

// eventEnergy is the deterministic stand-in for a generated event's energy.
func eventEnergy(n int64) float64 {
	return float64((n*37)%100) * GeV
}

// process runs event n through the chain starting at first. It returns the
// product of the handler weights, whether the event survived, and an error
// for strict-mode rejections.
func process(env iface.Env, first handlerView, n int64) (float64, bool, error) {
	energy := eventEnergy(n)
	weight := 1.0
	seen := make(map[object.ID]bool)
	for cur := first; cur != nil; {
		h := cur.handler()
		if seen[h.ID()] {
			return 0, false, fmt.Errorf("handler chain loops at %s", h.Name())
		}
		seen[h.ID()] = true
		if energy < h.Cut {
			switch h.Mode {
			case ModeVeto:
				return 0, false, nil
			case ModeStrict:
				return 0, false, fmt.Errorf("event %d: energy %.0f MeV below cut of %s", n, energy, h.Name())
			}
		}
		weight *= cur.weight()
		if h.Next.IsNil() {
			break
		}
		next, ok := env.Entity(h.Next)
		if !ok {
			return 0, false, fmt.Errorf("handler %s: next handler %s missing", h.Name(), h.Next)
		}
		if cur, ok = next.(handlerView); !ok {
			return 0, false, fmt.Errorf("handler %s: %s is not a handler", h.Name(), next.Interfaced().Name())
		}
	}
	return weight, true, nil
}

// SubHandler is a Handler that scales event weights.
type SubHandler struct {
	Handler
	Weight float64
}

// Clone implements object.Entity.
func (s *SubHandler) Clone() object.Entity { cp := *s; return &cp }

func (s *SubHandler) weight() float64 { return s.Weight }

func handlerOutput(v handlerView, out object.OutputStream) error {
	h := v.handler()
	out.WriteQuantity(h.Cut, GeV)
	out.WriteInt(int64(h.Mode))
	out.WriteRef(h.Next)
	return out.Err()
}

func handlerInput(v handlerView, in object.InputStream, _ int) error {
	h := v.handler()
	h.Cut = in.ReadQuantity(GeV)
	h.Mode = int(in.ReadInt())
	h.Next = in.ReadRef()
	return in.Err()
}

// Version 1 stored the weight as an integer percentage.
func subHandlerInput(s *SubHandler, in object.InputStream, version int) error {
	if version < 2 {
		s.Weight = float64(in.ReadInt()) / 100
	} else {
		s.Weight = in.ReadFloat()
	}
	return in.Err()
}

func subHandlerOutput(s *SubHandler, out object.OutputStream) error {
	out.WriteFloat(s.Weight)
	return out.Err()
}

func handlerInterfaces() []iface.Descriptor {
	return []iface.Descriptor{
		&iface.Parameter[handlerView, float64]{
			Name:        "Cut",
			Description: "Minimum event energy in GeV.",
			Field:       func(v handlerView) *float64 { return &v.handler().Cut },
			Limits:      iface.LowerLim,
			Unit:        GeV,
		},
		&iface.Switch[handlerView, int]{
			Name:        "Mode",
			Description: "What happens to events below the cut.",
			Field:       func(v handlerView) *int { return &v.handler().Mode },
			Default:     ModePassAll,
			Options: []iface.Option[int]{
				{Name: "PassAll", Description: "Ignore the cut.", Value: ModePassAll},
				{Name: "Veto", Description: "Drop events below the cut.", Value: ModeVeto},
				{Name: "Strict", Description: "Count events below the cut as errors.", Value: ModeStrict},
			},
		},
		&iface.Reference[handlerView]{
			Name:        "Next",
			Description: "Handler receiving accepted events.",
			Class:       "Handler",
			Nullable:    true,
			Field:       func(v handlerView) *object.ID { return &v.handler().Next },
		},
	}
}

func subHandlerInterfaces() []iface.Descriptor {
	return []iface.Descriptor{
		&iface.Parameter[*SubHandler, float64]{
			Name:        "Weight",
			Description: "Factor applied to the weight of accepted events.",
			Field:       func(s *SubHandler) *float64 { return &s.Weight },
			Default:     1,
			Limits:      iface.LowerLim,
		},
	}
}
