package fleet

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/firstcontact/pkg/config"
	"github.com/itohio/firstcontact/pkg/contact"
	"github.com/itohio/firstcontact/pkg/directory"
)

// recordingTuner records the reconfiguration calls the sync pushes out.
type recordingTuner struct {
	thresholds map[int][]float32
	tone       []bool
	volumes    [][2]float32
}

func newRecordingTuner() *recordingTuner {
	return &recordingTuner{thresholds: make(map[int][]float32)}
}

func (r *recordingTuner) UpdateDetectionThreshold(dirIndex int, v float32) error {
	r.thresholds[dirIndex] = append(r.thresholds[dirIndex], v)
	return nil
}

func (r *recordingTuner) SetToneEnabled(enabled bool) {
	r.tone = append(r.tone, enabled)
}

func (r *recordingTuner) UpdateAudioVolumes(signal, music float32) {
	r.volumes = append(r.volumes, [2]float32{signal, music})
}

func quietLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestSync(t *testing.T) (*Sync, *Fake, *directory.Directory, *config.Runtime, *recordingTuner) {
	t.Helper()

	dir := directory.New()
	id, err := dir.ResolveByName("elektra")
	require.NoError(t, err)

	rt := config.DefaultRuntime()
	tr := NewFake()
	tuner := newRecordingTuner()
	s := NewSync(quietLog(), tr, dir, &rt, tuner, id)
	return s, tr, dir, &rt, tuner
}

func TestRequestConfig_Disconnected(t *testing.T) {
	s, tr, _, rt, _ := newTestSync(t)
	before := *rt

	sent := s.RequestConfig()

	assert.False(t, sent)
	assert.Empty(t, tr.Published())
	assert.Equal(t, before, *rt, "runtime untouched")

	// A later request after reconnect still works: the earlier failure left
	// no broken state behind.
	tr.SetConnected(true)
	assert.True(t, s.RequestConfig())

	payloads := tr.PublishedTo(TopicConfigRequest)
	require.Len(t, payloads, 1)
	assert.Equal(t, "true", string(payloads[0]))
}

func TestHandleSettings_Applies(t *testing.T) {
	s, _, _, rt, tuner := newTestSync(t)

	out := s.HandleMessage(Message{
		Topic:   SettingsTopic("elektra"),
		Payload: []byte(`{"threshold": 0.05, "signalVolume": 0.3, "toneEnabled": false}`),
	})

	assert.Equal(t, OutcomeApplied, out)
	assert.Equal(t, Applied, s.State())
	assert.Equal(t, float32(0.05), rt.Threshold)
	assert.Equal(t, float32(0.3), rt.SignalVolume)
	assert.False(t, rt.ToneEnabled)

	// Threshold pushed to every peer of elektra (entries 0, 2, 3, 4).
	for _, idx := range []int{0, 2, 3, 4} {
		require.Len(t, tuner.thresholds[idx], 1, "peer %d", idx)
		assert.Equal(t, float32(0.05), tuner.thresholds[idx][0])
	}
	require.Len(t, tuner.volumes, 1)
	assert.Equal(t, [2]float32{0.3, 0.7}, tuner.volumes[0])
	assert.Equal(t, []bool{false}, tuner.tone)
}

func TestHandleSettings_OutOfRangeFieldSkipped(t *testing.T) {
	s, _, _, rt, _ := newTestSync(t)
	priorPeriod := rt.MainPeriod

	out := s.HandleMessage(Message{
		Topic:   SettingsTopic("elektra"),
		Payload: []byte(`{"mainPeriodMs": -100, "signalVolume": 0.4, "musicVolume": 0.9}`),
	})

	assert.Equal(t, OutcomeApplied, out, "rest of the delta still applies")
	assert.Equal(t, priorPeriod, rt.MainPeriod, "invalid field keeps prior value")
	assert.Equal(t, float32(0.4), rt.SignalVolume)
	assert.Equal(t, float32(0.9), rt.MusicVolume)
}

func TestHandleSettings_Idempotent(t *testing.T) {
	s, _, _, rt, tuner := newTestSync(t)

	payload := []byte(`{"threshold": 0.05, "mainPeriodMs": 200}`)
	msg := Message{Topic: SettingsTopic("elektra"), Payload: payload}

	assert.Equal(t, OutcomeApplied, s.HandleMessage(msg))
	after := *rt
	pushes := len(tuner.thresholds[0])

	assert.Equal(t, OutcomeUnchanged, s.HandleMessage(msg))
	assert.Equal(t, after, *rt, "second apply leaves runtime identical")
	assert.Equal(t, pushes, len(tuner.thresholds[0]), "no additional side effects")
	assert.Equal(t, Applied, s.State())
	assert.Equal(t, 200*time.Millisecond, rt.MainPeriod)
}

func TestHandleSettings_UnknownFieldsIgnored(t *testing.T) {
	s, _, _, rt, _ := newTestSync(t)

	out := s.HandleMessage(Message{
		Topic:   SettingsTopic("elektra"),
		Payload: []byte(`{"someFutureKnob": 42, "threshold": 0.02}`),
	})

	assert.Equal(t, OutcomeApplied, out)
	assert.Equal(t, float32(0.02), rt.Threshold)
}

func TestHandleSettings_Malformed(t *testing.T) {
	s, _, _, rt, _ := newTestSync(t)
	before := *rt

	out := s.HandleMessage(Message{
		Topic:   SettingsTopic("elektra"),
		Payload: []byte(`{"threshold": `),
	})

	assert.Equal(t, OutcomeMalformed, out)
	assert.Equal(t, before, *rt)
	assert.Equal(t, AwaitingConfig, s.State())
}

func TestHandleDirectory(t *testing.T) {
	s, _, dir, _, _ := newTestSync(t)

	doc := []byte(`{"eros": {"threshold": 0.03}}`)
	out := s.HandleMessage(Message{Topic: TopicConfigResponse, Payload: doc})
	assert.Equal(t, OutcomeApplied, out)
	assert.Equal(t, Applied, s.State())

	e, _ := dir.Entry(0)
	assert.Equal(t, float32(0.03), e.Threshold)

	// Duplicate delivery loops in place.
	out = s.HandleMessage(Message{Topic: TopicConfigResponse, Payload: doc})
	assert.Equal(t, OutcomeUnchanged, out)
	assert.Equal(t, Applied, s.State())

	out = s.HandleMessage(Message{Topic: TopicConfigResponse, Payload: []byte(`[broken`)})
	assert.Equal(t, OutcomeMalformed, out)
}

func TestHandleMessage_ForeignTopicIgnored(t *testing.T) {
	s, _, _, _, _ := newTestSync(t)

	out := s.HandleMessage(Message{Topic: SettingsTopic("eros"), Payload: []byte(`{}`)})
	assert.Equal(t, OutcomeIgnored, out)

	out = s.HandleMessage(Message{Topic: "wled/all/api", Payload: []byte(`{}`)})
	assert.Equal(t, OutcomeIgnored, out)
}

func TestPublishState(t *testing.T) {
	s, tr, _, _, _ := newTestSync(t)

	st := contact.Advance(contact.State{}, map[int]bool{0: true, 2: true})

	// Disconnected: dropped silently.
	assert.False(t, s.PublishState(st))
	assert.Empty(t, tr.Published())

	tr.SetConnected(true)
	require.True(t, s.PublishState(st))

	payloads := tr.PublishedTo(TopicContact)
	require.Len(t, payloads, 1)

	var got struct {
		Detector    string   `json:"detector"`
		Emitters    []string `json:"emitters"`
		Mask        uint8    `json:"mask"`
		Initialized bool     `json:"initialized"`
	}
	require.NoError(t, json.Unmarshal(payloads[0], &got))

	assert.Equal(t, "elektra", got.Detector)
	// Peer slots 0 and 2 for elektra are eros and sophia.
	assert.Equal(t, []string{"eros", "sophia"}, got.Emitters)
	assert.Equal(t, uint8(0b0101), got.Mask)
	assert.True(t, got.Initialized)
}

func TestSubscribeTopics(t *testing.T) {
	s, tr, _, _, _ := newTestSync(t)

	tr.SetConnected(true)
	require.NoError(t, s.SubscribeTopics())
	assert.Equal(t, []string{TopicConfigResponse, SettingsTopic("elektra")}, tr.topics)
}
