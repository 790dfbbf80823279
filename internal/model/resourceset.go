package model

import "fmt"

// ResourceSet carries one shape of resources attached to a reservation:
// requested, approved, or allocated (§3). Sliver is treated as an opaque
// blob per the resource-graph boundary (§6.4) — the kernel never parses
// it, only stores/forwards/diffs it through the graph.Provider interface.
type ResourceSet struct {
	Units              int
	ResourceType       string
	Sliver             []byte
	RequestProperties  map[string]string
	ResourceProperties map[string]string
}

// Validate enforces the §3 invariant `units >= 0`.
func (r ResourceSet) Validate() error {
	if r.Units < 0 {
		return fmt.Errorf("resource set units must be >= 0, got %d", r.Units)
	}
	return nil
}

// Clone returns a deep-enough copy so mutating the clone never affects the
// original — needed because once a reservation reaches Ticketed, the
// approved ResourceSet is frozen except via extend (§3).
func (r ResourceSet) Clone() ResourceSet {
	out := r
	if r.Sliver != nil {
		out.Sliver = append([]byte(nil), r.Sliver...)
	}
	out.RequestProperties = cloneStringMap(r.RequestProperties)
	out.ResourceProperties = cloneStringMap(r.ResourceProperties)
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Triad bundles the requested/approved/allocated shapes a reservation
// carries simultaneously (§3: "Carries the requested, approved, and
// allocated shapes of resources").
type Triad struct {
	Requested ResourceSet
	Approved  ResourceSet
	Allocated ResourceSet
}

// Clone deep-copies every member of the triad.
func (t Triad) Clone() Triad {
	return Triad{
		Requested: t.Requested.Clone(),
		Approved:  t.Approved.Clone(),
		Allocated: t.Allocated.Clone(),
	}
}
