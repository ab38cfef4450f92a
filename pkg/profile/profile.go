// Package profile records per-opcode execution counts and time from the VM
// trace hook and exports them to DuckDB for analysis.
package profile

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/runa-lang/runa/pkg/bytecode"
)

// Sample is the aggregate for one opcode within one function.
type Sample struct {
	Function string
	Opcode   string
	Count    int64
	Elapsed  time.Duration
}

type sampleKey struct {
	function string
	op       bytecode.Opcode
}

// Profiler aggregates trace events. Time between two consecutive events is
// charged to the earlier instruction.
type Profiler struct {
	mu      sync.Mutex
	samples map[sampleKey]*Sample
	last    *Sample
	lastAt  time.Time
	now     func() time.Time
}

// New returns an empty profiler.
func New() *Profiler {
	return &Profiler{samples: make(map[sampleKey]*Sample), now: time.Now}
}

// Hook returns the trace hook that feeds the profiler.
func (p *Profiler) Hook() bytecode.TraceHook {
	return p.observe
}

func (p *Profiler) observe(info bytecode.TraceInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.last != nil {
		p.last.Elapsed += now.Sub(p.lastAt)
	}

	key := sampleKey{function: info.Function, op: info.Op.Canonical()}
	s, ok := p.samples[key]
	if !ok {
		s = &Sample{Function: info.Function, Opcode: key.op.String()}
		p.samples[key] = s
	}
	s.Count++
	p.last, p.lastAt = s, now
}

// Stop charges the time of the final instruction. Call it once the VM
// returns.
func (p *Profiler) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last != nil {
		p.last.Elapsed += p.now().Sub(p.lastAt)
		p.last = nil
	}
}

// Samples returns the aggregates ordered by descending count, then by
// function and opcode name.
func (p *Profiler) Samples() []Sample {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Sample, 0, len(p.samples))
	for _, s := range p.samples {
		out = append(out, *s)
	}
	sortSamples(out)
	return out
}

// Total returns the number of instructions observed.
func (p *Profiler) Total() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int64
	for _, s := range p.samples {
		n += s.Count
	}
	return n
}

func sortSamples(samples []Sample) {
	sort.Slice(samples, func(i, j int) bool {
		a, b := samples[i], samples[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Function != b.Function {
			return a.Function < b.Function
		}
		return a.Opcode < b.Opcode
	})
}

// WriteReport prints samples as an aligned table.
func WriteReport(w io.Writer, samples []Sample) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FUNCTION\tOPCODE\tCOUNT\tTIME")
	for _, s := range samples {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.Function, s.Opcode, s.Count, s.Elapsed)
	}
	return tw.Flush()
}
