package detect

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/firstcontact/pkg/audio"
	"github.com/itohio/firstcontact/pkg/directory"
)

// newTestEngine builds an engine for the statue at the given directory
// index, on a loopback audio engine that is never connected: blocks are fed
// by hand.
func newTestEngine(t *testing.T, selfIndex int) (*Engine, *directory.Directory) {
	t.Helper()

	dir := directory.New()
	e, ok := dir.Entry(selfIndex)
	require.True(t, ok)
	id, err := dir.ResolveByName(e.Name)
	require.NoError(t, err)

	aud := audio.NewLoopback(testRate, testBlock, 0, 0)
	return NewEngine(aud, dir, id), dir
}

func block(freqAmp map[int]float32) audio.Block {
	blocks := make([][]float32, 0, len(freqAmp))
	for f, a := range freqAmp {
		blocks = append(blocks, tone(f, a, testBlock))
	}
	if len(blocks) == 0 {
		blocks = append(blocks, make([]float32, testBlock))
	}
	return audio.Block{Timestamp: time.Now(), Samples: mix(blocks...)}
}

func TestEngine_SampleDetections(t *testing.T) {
	// This node is elektra (index 1); peer slots cover entries 0, 2, 3, 4.
	eng, _ := newTestEngine(t, 1)

	eng.ProcessBlock(block(map[int]float32{
		10077: 0.05, // entry 0: linked
		17227: 0.05, // entry 3: linked
	}))

	det := eng.SampleDetections()
	assert.Equal(t, map[int]bool{0: true, 1: false, 2: true, 3: false}, det)
}

func TestEngine_SelfToneIgnored(t *testing.T) {
	eng, _ := newTestEngine(t, 1)

	// Only this node's own frequency on the wire: no detector listens there.
	eng.ProcessBlock(block(map[int]float32{12274: 0.5}))

	for p, above := range eng.SampleDetections() {
		assert.False(t, above, "slot %d", p)
	}
}

func TestEngine_ThresholdUpdateIsPerPeer(t *testing.T) {
	eng, _ := newTestEngine(t, 1)

	all := map[int]float32{10077: 0.03, 14643: 0.03, 17227: 0.03, 19467: 0.03}

	eng.ProcessBlock(block(all))
	det := eng.SampleDetections()
	for p := 0; p < 4; p++ {
		assert.True(t, det[p], "slot %d above default threshold", p)
	}

	// Raise only entry 3's threshold (peer slot 2 for this node).
	require.NoError(t, eng.UpdateDetectionThreshold(3, 0.05))

	eng.ProcessBlock(block(all))
	det = eng.SampleDetections()
	assert.True(t, det[0])
	assert.True(t, det[1])
	assert.False(t, det[2], "magnitude 0.03 under new 0.05 threshold")
	assert.True(t, det[3])

	// And a magnitude clearing the new threshold detects again.
	all[17227] = 0.08
	eng.ProcessBlock(block(all))
	assert.True(t, eng.SampleDetections()[2])
}

func TestEngine_ThresholdUpdateForSelfRejected(t *testing.T) {
	eng, _ := newTestEngine(t, 1)

	err := eng.UpdateDetectionThreshold(1, 0.05)
	assert.Error(t, err)
}

func TestEngine_DirectoryRetune(t *testing.T) {
	eng, dir := newTestEngine(t, 0)

	// Move elektra's emit frequency; its detector (slot 0 for eros) follows.
	err := dir.ApplyDocument([]byte(`{"elektra": {"emit": 13000}}`))
	require.NoError(t, err)

	eng.ProcessBlock(block(map[int]float32{12274: 0.05}))
	assert.False(t, eng.SampleDetections()[0], "old frequency no longer detected")

	eng.ProcessBlock(block(map[int]float32{13000: 0.05}))
	assert.True(t, eng.SampleDetections()[0], "new frequency detected")
}

func TestEngine_PeerSlot(t *testing.T) {
	eng, _ := newTestEngine(t, 1)

	p, ok := eng.PeerSlot(0)
	require.True(t, ok)
	assert.Equal(t, 0, p)

	p, ok = eng.PeerSlot(3)
	require.True(t, ok)
	assert.Equal(t, 2, p)

	_, ok = eng.PeerSlot(1)
	assert.False(t, ok, "self has no slot")
}

// failEngine refuses to connect, standing in for audio hardware that did not
// come up.
type failEngine struct {
	audio.Engine
}

func (f *failEngine) Connect() error   { return fmt.Errorf("codec not responding") }
func (f *failEngine) SampleRate() int  { return testRate }
func (f *failEngine) Close() error     { return nil }
func (f *failEngine) IsConnected() bool { return false }

func TestEngine_StartFailsWhenAudioDoesNot(t *testing.T) {
	dir := directory.New()
	id, err := dir.ResolveByName("eros")
	require.NoError(t, err)

	eng := NewEngine(&failEngine{}, dir, id)

	err = eng.Start(true, 0.5, 0.5)
	require.ErrorIs(t, err, ErrAudioInit)

	// The engine must not be left half-started.
	assert.NoError(t, eng.Stop())
}
