package trap

import (
	"bytes"

	"github.com/google/pprof/profile"
)

// ProfDevice_t backs defs.D_PROF (present as a device id in the teacher's
// defs package but never implemented there): a /proc-like read device
// that snapshots TrapCore's trap and syscall counters into a pprof
// profile.Profile, gzip-encoded the way `go tool pprof` expects.
type ProfDevice_t struct {
	tc *TrapCore_t
}

/// MkProfDevice backs a profiling device with tc's counters.
func MkProfDevice(tc *TrapCore_t) *ProfDevice_t {
	return &ProfDevice_t{tc: tc}
}

/// Snapshot encodes the current counter values as a pprof profile and
/// returns its gzip-compressed protobuf bytes.
func (d *ProfDevice_t) Snapshot() ([]byte, error) {
	fn := &profile.Function{ID: 1, Name: "trapcore", SystemName: "trapcore", Filename: "trap"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn, Line: 1}}}
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "syscalls", Unit: "count"},
			{Type: "ext_intrs", Unit: "count"},
			{Type: "timer_intrs", Unit: "count"},
			{Type: "alarms", Unit: "count"},
		},
		Function: []*profile.Function{fn},
		Location: []*profile.Location{loc},
		Sample: []*profile.Sample{{
			Location: []*profile.Location{loc},
			Value: []int64{
				d.tc.Syscalls.Get(),
				d.tc.ExtIntrs.Get(),
				d.tc.TimerIntrs.Get(),
				d.tc.Alarms.Get(),
			},
		}},
	}

	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
