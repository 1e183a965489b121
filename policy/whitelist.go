package policy

import "sort"

// Whitelist is the mutable set of operations a compartment may execute.
// It is not safe for concurrent use; a compartment is single-threaded
// during injection by contract.
type Whitelist struct {
	tags map[Tag]struct{}
}

// Snapshot is an immutable copy of a whitelist's state, used to restore
// the whitelist after a scoped relaxation.
type Snapshot struct {
	tags map[Tag]struct{}
}

// New builds a whitelist from the given tags, expanding groups.
func New(tags ...Tag) *Whitelist {
	w := &Whitelist{tags: make(map[Tag]struct{})}
	w.Relax(tags...)
	return w
}

// Permits reports whether a single operation tag is allowed.
func (w *Whitelist) Permits(tag Tag) bool {
	_, ok := w.tags[tag]
	return ok
}

// Relax adds the given tags (groups expanded) to the permitted set.
func (w *Whitelist) Relax(tags ...Tag) {
	for _, t := range Expand(tags...) {
		w.tags[t] = struct{}{}
	}
}

// Snapshot captures the current permitted set.
func (w *Whitelist) Snapshot() Snapshot {
	s := Snapshot{tags: make(map[Tag]struct{}, len(w.tags))}
	for t := range w.tags {
		s.tags[t] = struct{}{}
	}
	return s
}

// Restore resets the permitted set to exactly the snapshot's contents.
func (w *Whitelist) Restore(s Snapshot) {
	w.tags = make(map[Tag]struct{}, len(s.tags))
	for t := range s.tags {
		w.tags[t] = struct{}{}
	}
}

// Tags returns the permitted operations in sorted order.
func (w *Whitelist) Tags() []Tag {
	out := make([]Tag, 0, len(w.tags))
	for t := range w.tags {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of permitted operations.
func (w *Whitelist) Len() int {
	return len(w.tags)
}
