package detect

import (
	"errors"
	"fmt"
	"sync"

	"github.com/itohio/firstcontact/pkg/audio"
	"github.com/itohio/firstcontact/pkg/directory"
)

// ErrAudioInit means the underlying audio engine failed to come up. This is
// fatal to the whole sensing subsystem; the node must not enter its main
// loop half-initialized.
var ErrAudioInit = errors.New("audio engine initialization failed")

// Engine runs this node's side of the contact sensing: it keeps the tone on
// the shared output and measures every peer's frequency on the shared input.
// One detector exists per peer slot; slot p is the p-th directory entry in
// order with this node's own entry skipped, the same numbering the contact
// mask uses.
type Engine struct {
	eng  audio.Engine
	dir  *directory.Directory
	self directory.Identity

	mu        sync.RWMutex
	detectors []*Detector
	slots     []int       // slot -> directory index
	slotOf    map[int]int // directory index -> slot
	started   bool
}

// NewEngine builds the detection engine for the resolved identity. One
// detector is created per directory entry other than self, tuned to that
// entry's emit frequency with that entry's threshold. The engine re-tunes
// itself whenever the directory changes under it.
func NewEngine(eng audio.Engine, dir *directory.Directory, self directory.Identity) *Engine {
	e := &Engine{
		eng:    eng,
		dir:    dir,
		self:   self,
		slotOf: make(map[int]int),
	}

	rate := eng.SampleRate()
	for p, idx := range dir.PeerIndices(self.Index) {
		entry, _ := dir.Entry(idx)
		e.detectors = append(e.detectors, NewDetector(entry.EmitFrequency, entry.Threshold, rate))
		e.slots = append(e.slots, idx)
		e.slotOf[idx] = p
	}

	dir.OnChange(e.directoryChanged)

	return e
}

// Start connects the audio engine and begins emitting this node's tone.
// An audio connect failure is wrapped in ErrAudioInit and the engine stays
// stopped.
func (e *Engine) Start(toneEnabled bool, signalVol, musicVol float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("detection engine already started")
	}

	if err := e.eng.Connect(); err != nil {
		return fmt.Errorf("%w: %v", ErrAudioInit, err)
	}

	e.eng.SetVolumes(signalVol, musicVol)
	e.eng.SetTone(e.self.EmitFrequency, toneEnabled)
	e.started = true

	return nil
}

// Stop shuts the audio engine down.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return nil
	}
	e.started = false
	return e.eng.Close()
}

// ProcessBlock runs every detector over one input block.
func (e *Engine) ProcessBlock(b audio.Block) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, d := range e.detectors {
		d.Process(b.Samples)
	}
}

// SampleDetections snapshots, per peer slot, whether the latest measurement
// clears that peer's threshold. Called once per analysis period; no smoothing
// happens here, debounce is the aggregator's caller's business.
func (e *Engine) SampleDetections() map[int]bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[int]bool, len(e.detectors))
	for p, d := range e.detectors {
		out[p] = d.Above()
	}
	return out
}

// Magnitudes snapshots the latest per-slot measurements, for diagnostics and
// debug logging.
func (e *Engine) Magnitudes() map[int]float32 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[int]float32, len(e.detectors))
	for p, d := range e.detectors {
		out[p] = d.Magnitude()
	}
	return out
}

// UpdateDetectionThreshold sets the threshold for detecting the statue at
// the given directory index. The change lands in the directory, which feeds
// back into the detector through the change notification, so the two can
// never disagree.
func (e *Engine) UpdateDetectionThreshold(dirIndex int, v float32) error {
	if dirIndex == e.self.Index {
		return fmt.Errorf("statue %d is self, it has no detector", dirIndex)
	}
	return e.dir.SetThreshold(dirIndex, v)
}

// SetToneEnabled turns this node's emitted tone on or off without restarting
// the audio path.
func (e *Engine) SetToneEnabled(enabled bool) {
	e.eng.SetTone(e.self.EmitFrequency, enabled)
}

// UpdateAudioVolumes applies new signal and music levels. Interpolation to
// avoid audible steps is the mixer's job behind the audio.Engine boundary.
func (e *Engine) UpdateAudioVolumes(signal, music float32) {
	e.eng.SetVolumes(signal, music)
}

// PeerSlot translates a directory index to the peer slot used by detections
// and the contact mask. Returns false for self and unknown indices.
func (e *Engine) PeerSlot(dirIndex int) (int, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.slotOf[dirIndex]
	return p, ok
}

// directoryChanged re-tunes the affected detector after a directory update.
func (e *Engine) directoryChanged(dirIndex int, entry directory.Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.slotOf[dirIndex]
	if !ok {
		// Self, or an entry appended after construction. Appends past boot
		// are rare; new peers are picked up on restart.
		return
	}

	d := e.detectors[p]
	if d.TargetHz() != entry.EmitFrequency {
		d.Retune(entry.EmitFrequency)
	}
	d.SetThreshold(entry.Threshold)
}
