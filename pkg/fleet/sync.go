package fleet

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/itohio/firstcontact/pkg/config"
	"github.com/itohio/firstcontact/pkg/contact"
	"github.com/itohio/firstcontact/pkg/directory"
)

// State is the sync state machine position. A node starts awaiting config
// and moves to Applied on the first delivery that changes anything; stale or
// duplicate deliveries loop in place.
type State int

const (
	AwaitingConfig State = iota
	Applied
)

func (s State) String() string {
	switch s {
	case AwaitingConfig:
		return "awaiting-config"
	case Applied:
		return "applied"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome classifies one inbound delivery.
type Outcome int

const (
	// OutcomeUnchanged means the delivery was valid but changed nothing
	// (duplicate or out of date).
	OutcomeUnchanged Outcome = iota
	// OutcomeApplied means at least one field landed.
	OutcomeApplied
	// OutcomeMalformed means the payload did not decode. Nothing changed.
	OutcomeMalformed
	// OutcomeIgnored means the topic is not ours.
	OutcomeIgnored
)

// Tuner is the slice of the detection engine the sync needs: the
// reconfiguration entry points.
type Tuner interface {
	UpdateDetectionThreshold(dirIndex int, v float32) error
	SetToneEnabled(enabled bool)
	UpdateAudioVolumes(signal, music float32)
}

// Sync applies configuration pushed by the central controller and publishes
// contact state. There is no consensus here: each node converges toward
// whatever the controller pushed last, and transient disagreement between
// nodes during delivery is accepted.
type Sync struct {
	log   logrus.FieldLogger
	tr    Transport
	dir   *directory.Directory
	rt    *config.Runtime
	tuner Tuner
	self  directory.Identity

	state State
}

// NewSync wires the sync to its collaborators. The runtime config object is
// owned here in the sense that all wire-driven mutation flows through this
// component; the controller loop reads it.
func NewSync(log logrus.FieldLogger, tr Transport, dir *directory.Directory, rt *config.Runtime, tuner Tuner, self directory.Identity) *Sync {
	return &Sync{
		log:   log.WithField("component", "fleet"),
		tr:    tr,
		dir:   dir,
		rt:    rt,
		tuner: tuner,
		self:  self,
		state: AwaitingConfig,
	}
}

// State returns the current sync state.
func (s *Sync) State() State { return s.state }

// SubscribeTopics registers the inbound topics this node cares about: the
// fleet-wide directory responses and its own settings topic.
func (s *Sync) SubscribeTopics() error {
	return s.tr.Subscribe(TopicConfigResponse, SettingsTopic(s.self.Name))
}

// RequestConfig asks the controller to send the current fleet config.
// Returns whether a request actually went out; a disconnected transport is a
// log line, not an error, and the node keeps running on what it has. There
// is no retry here: a fresh request can be issued again at any time, even
// from Applied, to re-sync after drift.
func (s *Sync) RequestConfig() bool {
	if !s.tr.IsConnected() {
		s.log.Info("transport disconnected, config request skipped")
		return false
	}
	if err := s.tr.Publish(TopicConfigRequest, []byte("true")); err != nil {
		s.log.WithError(err).Warn("config request failed")
		return false
	}
	s.log.WithField("state", s.state.String()).Debug("config requested")
	return true
}

// HandleMessage routes one inbound delivery. Malformed payloads and
// out-of-range fields never abort anything beyond their own scope.
func (s *Sync) HandleMessage(msg Message) Outcome {
	switch msg.Topic {
	case TopicConfigResponse:
		return s.handleDirectory(msg.Payload)
	case SettingsTopic(s.self.Name):
		return s.handleSettings(msg.Payload)
	default:
		return OutcomeIgnored
	}
}

// handleDirectory merges a fleet directory document. Detector re-tuning rides
// on the directory's change notifications, so applying the same document
// twice is naturally free of extra side effects.
func (s *Sync) handleDirectory(payload []byte) Outcome {
	res, err := s.dir.Apply(payload)
	if err != nil {
		s.log.WithError(err).Warn("malformed directory document")
		return OutcomeMalformed
	}

	for _, skipped := range res.Skipped {
		s.log.WithField("entry", skipped).Warn("directory entry skipped")
	}

	if len(res.Changed) == 0 && len(res.Added) == 0 {
		s.log.Debug("directory document unchanged")
		return OutcomeUnchanged
	}

	for _, idx := range res.Changed {
		if e, ok := s.dir.Entry(idx); ok {
			s.log.WithFields(logrus.Fields{
				"statue":    e.Name,
				"emit":      e.EmitFrequency,
				"threshold": e.Threshold,
			}).Info("directory entry updated")
		}
	}

	s.state = Applied
	return OutcomeApplied
}

// settingsDelta mirrors the per-node runtime settings document. Pointer
// fields distinguish absent from zero; unrecognized fields are ignored by
// the decoder, which is the forward-compatibility story.
type settingsDelta struct {
	Threshold      *float64 `json:"threshold"`
	MainPeriodMs   *int     `json:"mainPeriodMs"`
	SignalVolume   *float64 `json:"signalVolume"`
	MusicVolume    *float64 `json:"musicVolume"`
	FadeInitVolume *float64 `json:"fadeInitVolume"`
	PauseTimeoutMs *int     `json:"pauseTimeoutMs"`
	IdleTimeoutMs  *int     `json:"idleTimeoutMs"`
	ToneEnabled    *bool    `json:"toneEnabled"`
	DebugMode      *bool    `json:"debugMode"`
}

// handleSettings applies a runtime settings delta field by field. A field
// that fails its range check is logged and skipped; the rest of the delta
// still lands. There is no transaction and no rollback.
func (s *Sync) handleSettings(payload []byte) Outcome {
	var delta settingsDelta
	if err := json.Unmarshal(payload, &delta); err != nil {
		s.log.WithError(err).Warn("malformed settings payload")
		return OutcomeMalformed
	}

	changed := s.applySettings(delta)
	if !changed {
		s.log.Debug("settings delta unchanged")
		return OutcomeUnchanged
	}

	s.state = Applied
	return OutcomeApplied
}

// applySettings pushes each present field through the runtime's validated
// setters and propagates the ones that moved into the detection engine.
// Re-applying an identical delta changes nothing and pushes nothing, which
// is the idempotence the protocol relies on.
func (s *Sync) applySettings(delta settingsDelta) bool {
	changed := false

	if delta.Threshold != nil {
		prev := s.rt.Threshold
		if err := s.rt.SetThreshold(float32(*delta.Threshold)); err != nil {
			s.logRejected("threshold", err)
		} else if s.rt.Threshold != prev {
			changed = true
			// The fleet-wide default threshold applies to every peer until a
			// directory push differentiates them again.
			for _, idx := range s.dir.PeerIndices(s.self.Index) {
				if err := s.tuner.UpdateDetectionThreshold(idx, s.rt.Threshold); err != nil {
					s.log.WithError(err).WithField("peer", idx).Warn("threshold push failed")
				}
			}
		}
	}

	if delta.MainPeriodMs != nil {
		prev := s.rt.MainPeriod
		if err := s.rt.SetMainPeriod(time.Duration(*delta.MainPeriodMs) * time.Millisecond); err != nil {
			s.logRejected("mainPeriodMs", err)
		} else if s.rt.MainPeriod != prev {
			changed = true
			// The controller loop picks the new period up on its next tick.
		}
	}

	volumesMoved := false
	if delta.SignalVolume != nil {
		prev := s.rt.SignalVolume
		if err := s.rt.SetSignalVolume(float32(*delta.SignalVolume)); err != nil {
			s.logRejected("signalVolume", err)
		} else if s.rt.SignalVolume != prev {
			changed = true
			volumesMoved = true
		}
	}
	if delta.MusicVolume != nil {
		prev := s.rt.MusicVolume
		if err := s.rt.SetMusicVolume(float32(*delta.MusicVolume)); err != nil {
			s.logRejected("musicVolume", err)
		} else if s.rt.MusicVolume != prev {
			changed = true
			volumesMoved = true
		}
	}
	if volumesMoved {
		s.tuner.UpdateAudioVolumes(s.rt.SignalVolume, s.rt.MusicVolume)
	}

	if delta.FadeInitVolume != nil {
		prev := s.rt.FadeInitVolume
		if err := s.rt.SetFadeInitVolume(float32(*delta.FadeInitVolume)); err != nil {
			s.logRejected("fadeInitVolume", err)
		} else if s.rt.FadeInitVolume != prev {
			changed = true
		}
	}

	if delta.PauseTimeoutMs != nil {
		prev := s.rt.PauseTimeout
		if err := s.rt.SetPauseTimeout(time.Duration(*delta.PauseTimeoutMs) * time.Millisecond); err != nil {
			s.logRejected("pauseTimeoutMs", err)
		} else if s.rt.PauseTimeout != prev {
			changed = true
		}
	}

	if delta.IdleTimeoutMs != nil {
		prev := s.rt.IdleTimeout
		if err := s.rt.SetIdleTimeout(time.Duration(*delta.IdleTimeoutMs) * time.Millisecond); err != nil {
			s.logRejected("idleTimeoutMs", err)
		} else if s.rt.IdleTimeout != prev {
			changed = true
		}
	}

	if delta.ToneEnabled != nil && *delta.ToneEnabled != s.rt.ToneEnabled {
		s.rt.ToneEnabled = *delta.ToneEnabled
		s.tuner.SetToneEnabled(s.rt.ToneEnabled)
		changed = true
	}

	if delta.DebugMode != nil && *delta.DebugMode != s.rt.DebugMode {
		s.rt.DebugMode = *delta.DebugMode
		changed = true
	}

	return changed
}

func (s *Sync) logRejected(field string, err error) {
	s.log.WithError(err).WithField("field", field).Warn("settings field rejected, keeping prior value")
}

// statePayload is the contact state as published for the controller and the
// lighting system.
type statePayload struct {
	Detector    string   `json:"detector"`
	Emitters    []string `json:"emitters"`
	Mask        uint8    `json:"mask"`
	Initialized bool     `json:"initialized"`
}

// PublishState pushes one contact snapshot to the well-known topic. Dropped
// silently when the transport is down; the next snapshot carries the same
// information.
func (s *Sync) PublishState(st contact.State) bool {
	if !s.tr.IsConnected() {
		s.log.Debug("transport disconnected, state publish dropped")
		return false
	}

	emitters := []string{}
	for p, idx := range s.dir.PeerIndices(s.self.Index) {
		if st.LinkedTo(p) {
			if e, ok := s.dir.Entry(idx); ok {
				emitters = append(emitters, e.Name)
			}
		}
	}

	payload, err := json.Marshal(statePayload{
		Detector:    s.self.Name,
		Emitters:    emitters,
		Mask:        uint8(st.IsLinked),
		Initialized: st.Initialized,
	})
	if err != nil {
		s.log.WithError(err).Error("state payload marshal failed")
		return false
	}

	if err := s.tr.Publish(TopicContact, payload); err != nil {
		s.log.WithError(err).Debug("state publish failed")
		return false
	}
	return true
}
