// Package audio defines the boundary to the audio hardware: a continuous
// tone on the shared output and a stream of input blocks for analysis. The
// codec itself lives behind the Engine interface; this package ships a
// loopback engine for development and tests.
package audio

import (
	"math"
	"sync/atomic"
	"time"
)

const (
	// DefaultSampleRate matches the installation's codec configuration.
	DefaultSampleRate = 44100
	// DefaultBlockSize is the analysis block length in samples.
	DefaultBlockSize = 1024
	// DefaultBufferSize is the default size for the blocks channel buffer.
	DefaultBufferSize = 8
)

// Block is one buffer of input samples from the shared medium.
type Block struct {
	Timestamp time.Time
	Samples   []float32
}

// Engine is the audio hardware boundary (real codec or loopback).
type Engine interface {
	Connect() error
	Close() error
	Blocks() <-chan Block
	SetTone(freqHz int, enabled bool)
	SetVolumes(signal, music float32)
	SampleRate() int
	IsConnected() bool
}

// Ensure Loopback implements Engine.
var _ Engine = (*Loopback)(nil)

// volume is a float32 shared between the control side and the render path.
// The render path runs at buffer-fill priority, so the handoff is a single
// atomic word, not a mutex.
type volume struct {
	bits atomic.Uint32
}

func (v *volume) Store(f float32) {
	v.bits.Store(math.Float32bits(f))
}

func (v *volume) Load() float32 {
	return math.Float32frombits(v.bits.Load())
}
