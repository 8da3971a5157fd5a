package report

import "fmt"

// Encoding selects the wire format a Report is serialized with.
type Encoding int

const (
	// Folded serializes as "frame1;frame2;...;frameN <count>\n" lines.
	Folded Encoding = iota
	// Pprof serializes as a pprof protocol-buffer profile.
	Pprof
)

func (e Encoding) String() string {
	if e == Pprof {
		return "pprof"
	}
	return "folded"
}

// Serialize renders the Report in the given wire Encoding.
func (r *Report) Serialize(encoding Encoding) ([]byte, error) {
	switch encoding {
	case Folded:
		return r.SerializeFolded()
	case Pprof:
		return r.SerializePprof()
	default:
		return nil, fmt.Errorf("report: unknown encoding %v", encoding)
	}
}
