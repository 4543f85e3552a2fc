// Package directory holds the cluster directory: the ordered table of every
// statue in the installation, and the resolution of which entry this node is.
package directory

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
)

// MaxStatues is the fixed upper bound on directory entries. The frequency
// plan only has this many intermodulation-safe slots.
const MaxStatues = 5

// ErrNoMatch is returned by Resolve when no directory entry matches the
// node's address. The caller falls back to the default identity (index 0).
var ErrNoMatch = errors.New("no directory entry matches")

//go:embed directory.yaml
var defaultDocument []byte

// Entry is one statue's row in the directory.
type Entry struct {
	Name          string
	EmitFrequency int // Hz
	Threshold     float32
	MACAddress    string
	IPAddress     string
	Detect        []string // peer names, informational
}

// Identity is this node's resolved role. Immutable after resolution; a
// re-match requires a restart.
type Identity struct {
	Index         int
	Name          string
	EmitFrequency int
	IPAddress     string
	MACAddress    string
}

// Directory is the ordered statue table. Entry order is the document order of
// the default directory and is stable for the process lifetime: runtime
// updates change fields in place, never positions.
type Directory struct {
	entries  []Entry
	onChange []func(index int, e Entry)
}

// New returns a directory populated from the embedded default document.
func New() *Directory {
	d := &Directory{}
	if err := d.ApplyDocument(defaultDocument); err != nil {
		// The embedded document is validated by tests; failing to parse it
		// means the binary itself is broken.
		panic(fmt.Sprintf("directory: embedded default document: %v", err))
	}
	return d
}

// OnChange registers a callback fired whenever an entry's emit frequency or
// threshold changes, with the entry's index and new value. Used by the
// detection engine to re-tune detectors when the directory moves under them.
func (d *Directory) OnChange(fn func(index int, e Entry)) {
	d.onChange = append(d.onChange, fn)
}

// Len returns the number of entries.
func (d *Directory) Len() int { return len(d.entries) }

// Entry returns the entry at index i.
func (d *Directory) Entry(i int) (Entry, bool) {
	if i < 0 || i >= len(d.entries) {
		return Entry{}, false
	}
	return d.entries[i], true
}

// Entries returns a copy of all entries in directory order.
func (d *Directory) Entries() []Entry {
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// PeerIndices returns the directory indices of every statue except self, in
// directory order. Position p in the returned slice is peer slot p: the
// detector index and the contact mask bit for that peer.
func (d *Directory) PeerIndices(self int) []int {
	out := make([]int, 0, len(d.entries)-1)
	for i := range d.entries {
		if i != self {
			out = append(out, i)
		}
	}
	return out
}

// Resolve matches the given IP address against the directory and returns the
// matching entry's identity. Returns ErrNoMatch if no entry has that address.
// A matched entry without an emit frequency cannot serve as an identity even
// though it still participates in detection for other nodes.
func (d *Directory) Resolve(ip string) (Identity, error) {
	for i, e := range d.entries {
		if e.IPAddress != "" && e.IPAddress == ip {
			if e.EmitFrequency == 0 {
				return Identity{}, fmt.Errorf("entry %q matches %s but has no emit frequency", e.Name, ip)
			}
			return d.identityAt(i), nil
		}
	}
	return Identity{}, fmt.Errorf("address %s: %w", ip, ErrNoMatch)
}

// ResolveByName returns the identity for a fixed statue name. This is the
// legacy build-time identity mode: the name is pinned in the node config and
// the address match is skipped.
func (d *Directory) ResolveByName(name string) (Identity, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, e := range d.entries {
		if e.Name == name {
			if e.EmitFrequency == 0 {
				return Identity{}, fmt.Errorf("entry %q has no emit frequency", e.Name)
			}
			return d.identityAt(i), nil
		}
	}
	return Identity{}, fmt.Errorf("statue %q: %w", name, ErrNoMatch)
}

// DefaultIdentity returns the index-0 identity used when address resolution
// fails. The node stays operable but misidentified.
func (d *Directory) DefaultIdentity() Identity {
	return d.identityAt(0)
}

func (d *Directory) identityAt(i int) Identity {
	e := d.entries[i]
	return Identity{
		Index:         i,
		Name:          e.Name,
		EmitFrequency: e.EmitFrequency,
		IPAddress:     e.IPAddress,
		MACAddress:    e.MACAddress,
	}
}

// SetThreshold updates a single entry's detection threshold and notifies
// listeners. No-op (and no notification) if the value is unchanged.
func (d *Directory) SetThreshold(i int, v float32) error {
	if i < 0 || i >= len(d.entries) {
		return fmt.Errorf("directory index %d out of range", i)
	}
	if d.entries[i].Threshold == v {
		return nil
	}
	d.entries[i].Threshold = v
	d.notify(i)
	return nil
}

func (d *Directory) notify(i int) {
	for _, fn := range d.onChange {
		fn(i, d.entries[i])
	}
}
