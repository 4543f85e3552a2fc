// Package detect implements the frequency-domain contact sensing: one
// narrowband detector per peer statue, fed by audio blocks from the shared
// medium, plus the engine that ties detectors to the cluster directory and
// the emitted tone.
package detect

import (
	"github.com/chewxy/math32"
)

// Detector measures the signal energy at a single peer's emit frequency
// using the Goertzel algorithm. Peer frequencies are deliberately spaced to
// dodge intermodulation products, so each is evaluated independently rather
// than through one wide FFT.
type Detector struct {
	targetHz   int
	threshold  float32
	sampleRate int

	coeff     float32 // 2*cos(2*pi*f/Fs), recomputed on retune
	magnitude float32 // latest block's normalized magnitude
}

// NewDetector creates a detector for the given target frequency.
func NewDetector(targetHz int, threshold float32, sampleRate int) *Detector {
	d := &Detector{
		threshold:  threshold,
		sampleRate: sampleRate,
	}
	d.Retune(targetHz)
	return d
}

// Retune points the detector at a new target frequency. The stale magnitude
// is cleared so one period never mixes measurements of two frequencies.
func (d *Detector) Retune(targetHz int) {
	d.targetHz = targetHz
	omega := 2 * math32.Pi * float32(targetHz) / float32(d.sampleRate)
	d.coeff = 2 * math32.Cos(omega)
	d.magnitude = 0
}

// TargetHz returns the current target frequency.
func (d *Detector) TargetHz() int { return d.targetHz }

// SetThreshold sets the detection threshold.
func (d *Detector) SetThreshold(v float32) { d.threshold = v }

// Threshold returns the detection threshold.
func (d *Detector) Threshold() float32 { return d.threshold }

// Process runs the Goertzel recurrence over one block and stores the
// resulting magnitude, normalized so a full-scale sine at the target
// frequency measures close to 1.0. Returns the magnitude.
func (d *Detector) Process(samples []float32) float32 {
	var q1, q2 float32
	for _, x := range samples {
		q0 := d.coeff*q1 - q2 + x
		q2 = q1
		q1 = q0
	}

	power := q1*q1 + q2*q2 - d.coeff*q1*q2
	if power < 0 {
		power = 0
	}
	n := float32(len(samples))
	d.magnitude = 2 * math32.Sqrt(power) / n
	return d.magnitude
}

// Magnitude returns the most recent block's measurement.
func (d *Detector) Magnitude() float32 { return d.magnitude }

// Above reports whether the latest measurement clears the threshold.
func (d *Detector) Above() bool { return d.magnitude >= d.threshold }
