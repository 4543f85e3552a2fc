package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chewxy/math32"
)

const twoPi = 2 * math32.Pi

// Loopback simulates the shared audio medium for testing and development.
// It renders this node's own tone plus the tones of whichever simulated
// peers are currently "touching", with a little noise on top, and serves the
// mix back as input blocks at real-block cadence.
type Loopback struct {
	sampleRate int
	blockSize  int
	noiseLevel float32
	peerLevel  float32

	blocks    chan Block
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool

	// Tone state, written by the control side, read by the render goroutine.
	toneFreq    atomic.Int32
	toneEnabled atomic.Bool
	signalVol   volume
	musicVol    volume

	// Simulated peers keyed by emit frequency, with per-peer oscillator
	// phases. Owned by the render goroutine, amplitudes guarded by mu.
	peers     map[int]float32
	peerPhase map[int]float32

	phase     float32 // own tone phase, radians
	noiseSeed uint32
}

// NewLoopback creates a loopback engine. Zero arguments fall back to the
// package defaults.
func NewLoopback(sampleRate, blockSize int, noiseLevel, peerLevel float32) *Loopback {
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	l := &Loopback{
		sampleRate: sampleRate,
		blockSize:  blockSize,
		noiseLevel: noiseLevel,
		peerLevel:  peerLevel,
		blocks:     make(chan Block, DefaultBufferSize),
		ctx:        ctx,
		cancel:     cancel,
		peers:      make(map[int]float32),
		peerPhase:  make(map[int]float32),
		noiseSeed:  0x2545f491,
	}
	l.signalVol.Store(0.5)
	l.musicVol.Store(0.0)
	return l
}

// Connect starts the render goroutine.
func (l *Loopback) Connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connected {
		return fmt.Errorf("already connected")
	}
	if l.ctx.Err() != nil {
		return fmt.Errorf("engine closed")
	}
	l.connected = true

	go l.render()

	return nil
}

// Close stops the engine. The block channel is closed by the render
// goroutine once it has drained out.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.connected {
		return nil
	}

	l.cancel()
	l.connected = false

	return nil
}

// Blocks returns the channel of input blocks.
func (l *Loopback) Blocks() <-chan Block {
	return l.blocks
}

// SetTone configures this node's emitted tone.
func (l *Loopback) SetTone(freqHz int, enabled bool) {
	l.toneFreq.Store(int32(freqHz))
	l.toneEnabled.Store(enabled)
}

// SetVolumes sets the signal and music output levels. Values land atomically
// and take effect on the next rendered sample.
func (l *Loopback) SetVolumes(signal, music float32) {
	l.signalVol.Store(signal)
	l.musicVol.Store(music)
}

// SampleRate returns the configured sample rate.
func (l *Loopback) SampleRate() int { return l.sampleRate }

// IsConnected reports whether the engine is running.
func (l *Loopback) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

// SetPeerLinked simulates physical contact with a peer emitting at freqHz.
func (l *Loopback) SetPeerLinked(freqHz int, linked bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if linked {
		l.peers[freqHz] = l.peerLevel
	} else {
		delete(l.peers, freqHz)
	}
}

// SetPeerLevel simulates contact with an explicit received amplitude, for
// exercising threshold boundaries. A non-positive amplitude removes the peer.
func (l *Loopback) SetPeerLevel(freqHz int, amplitude float32) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amplitude <= 0 {
		delete(l.peers, freqHz)
		return
	}
	l.peers[freqHz] = amplitude
}

// render produces blocks at the cadence real hardware would.
func (l *Loopback) render() {
	defer close(l.blocks)

	blockDur := time.Duration(float64(l.blockSize) / float64(l.sampleRate) * float64(time.Second))
	ticker := time.NewTicker(blockDur)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			b := l.renderBlock()
			select {
			case l.blocks <- b:
			case <-l.ctx.Done():
				return
			default:
				// Consumer is behind, drop the block. The analysis loop only
				// ever wants the freshest one anyway.
			}
		}
	}
}

func (l *Loopback) renderBlock() Block {
	l.mu.RLock()
	peers := make(map[int]float32, len(l.peers))
	for f, a := range l.peers {
		peers[f] = a
	}
	l.mu.RUnlock()

	samples := make([]float32, l.blockSize)
	rate := float32(l.sampleRate)

	ownStep := twoPi * float32(l.toneFreq.Load()) / rate
	ownOn := l.toneEnabled.Load()
	vol := l.signalVol.Load()

	for i := range samples {
		var s float32

		// Own tone leaks into the input on the shared medium.
		if ownOn && ownStep > 0 {
			s += vol * 0.01 * math32.Sin(l.phase)
			l.phase = wrapPhase(l.phase + ownStep)
		}

		for f, amp := range peers {
			step := twoPi * float32(f) / rate
			ph := l.peerPhase[f]
			s += amp * math32.Sin(ph)
			l.peerPhase[f] = wrapPhase(ph + step)
		}

		s += l.noise()

		samples[i] = s
	}

	return Block{Timestamp: time.Now(), Samples: samples}
}

func wrapPhase(ph float32) float32 {
	if ph >= twoPi {
		return ph - twoPi
	}
	return ph
}

// noise is a cheap xorshift white noise source.
func (l *Loopback) noise() float32 {
	l.noiseSeed ^= l.noiseSeed << 13
	l.noiseSeed ^= l.noiseSeed >> 17
	l.noiseSeed ^= l.noiseSeed << 5
	return (float32(l.noiseSeed%2000)/1000.0 - 1.0) * l.noiseLevel
}
