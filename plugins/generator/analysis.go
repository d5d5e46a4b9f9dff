package generator

import (
	"context"
	"fmt"

	"evgenkit/pkg/iface"
	"evgenkit/pkg/object"
)

// Analysis accumulates accepted events during a run.
type Analysis struct {
	object.Base
	Events     int64
	SumWeights float64
	Finished   bool
}

// Clone implements object.Entity.
func (a *Analysis) Clone() object.Entity { cp := *a; return &cp }

// DoInitRun resets the counters.
func (a *Analysis) DoInitRun(context.Context) error {
	a.Events, a.SumWeights, a.Finished = 0, 0, false
	return nil
}

// DoFinish closes the run. Repeated calls are no-ops.
func (a *Analysis) DoFinish(context.Context) error {
	a.Finished = true
	return nil
}

func (a *Analysis) analyze(weight float64) {
	if a.Finished {
		return
	}
	a.Events++
	a.SumWeights += weight
}

// Summary renders the counters.
func (a *Analysis) Summary() string {
	mean := 0.0
	if a.Events > 0 {
		mean = a.SumWeights / float64(a.Events)
	}
	return fmt.Sprintf("events=%d sumw=%g mean=%g", a.Events, a.SumWeights, mean)
}

func analysisOutput(a *Analysis, out object.OutputStream) error {
	out.WriteInt(a.Events)
	out.WriteFloat(a.SumWeights)
	out.WriteBool(a.Finished)
	return out.Err()
}

func analysisInput(a *Analysis, in object.InputStream, _ int) error {
	a.Events = in.ReadInt()
	a.SumWeights = in.ReadFloat()
	a.Finished = in.ReadBool()
	return in.Err()
}

func analysisInterfaces() []iface.Descriptor {
	return []iface.Descriptor{
		&iface.Command[*Analysis]{
			Name:           "Summary",
			Description:    "Print the accumulated counters.",
			ReadOnly:       true,
			DependencySafe: true,
			Handler:        func(a *Analysis, _ string) (string, error) { return a.Summary(), nil },
		},
	}
}
