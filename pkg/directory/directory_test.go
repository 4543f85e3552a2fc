package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultDocument(t *testing.T) {
	d := New()

	require.Equal(t, 5, d.Len())

	names := []string{"eros", "elektra", "ariel", "sophia", "ultimo"}
	freqs := []int{10077, 12274, 14643, 17227, 19467}
	for i, name := range names {
		e, ok := d.Entry(i)
		require.True(t, ok)
		assert.Equal(t, name, e.Name, "entry %d", i)
		assert.Equal(t, freqs[i], e.EmitFrequency)
		assert.Equal(t, float32(0.01), e.Threshold)
		assert.NotEmpty(t, e.IPAddress)
		assert.NotEmpty(t, e.MACAddress)
	}
}

func TestResolve_ByAddress(t *testing.T) {
	d := New()

	id, err := d.Resolve("192.168.4.23")
	require.NoError(t, err)
	assert.Equal(t, 1, id.Index)
	assert.Equal(t, "elektra", id.Name)
	assert.Equal(t, 12274, id.EmitFrequency)
	assert.Equal(t, "192.168.4.23", id.IPAddress)
}

func TestResolve_UniqueIndices(t *testing.T) {
	d := New()

	seen := map[int]bool{}
	for _, e := range d.Entries() {
		id, err := d.Resolve(e.IPAddress)
		require.NoError(t, err)
		assert.False(t, seen[id.Index], "index %d assigned twice", id.Index)
		seen[id.Index] = true
	}
	assert.Len(t, seen, 5)
}

func TestResolve_NoMatch(t *testing.T) {
	d := New()

	_, err := d.Resolve("10.1.2.3")
	require.ErrorIs(t, err, ErrNoMatch)

	// The caller's fallback identity is entry 0.
	id := d.DefaultIdentity()
	assert.Equal(t, 0, id.Index)
	assert.Equal(t, "eros", id.Name)
}

func TestResolveByName(t *testing.T) {
	d := New()

	id, err := d.ResolveByName("  SOPHIA ")
	require.NoError(t, err)
	assert.Equal(t, 3, id.Index)
	assert.Equal(t, 17227, id.EmitFrequency)

	_, err = d.ResolveByName("nobody")
	require.ErrorIs(t, err, ErrNoMatch)
}

func TestPeerIndices(t *testing.T) {
	d := New()

	assert.Equal(t, []int{0, 2, 3, 4}, d.PeerIndices(1))
	assert.Equal(t, []int{1, 2, 3, 4}, d.PeerIndices(0))
	assert.Equal(t, []int{0, 1, 2, 3}, d.PeerIndices(4))
}

func TestApply_PartialUpdate(t *testing.T) {
	d := New()

	// JSON payload, as the controller sends it. Only some fields present.
	doc := []byte(`{"elektra": {"threshold": 0.05}}`)

	res, err := d.Apply(doc)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Changed)
	assert.Empty(t, res.Added)
	assert.Empty(t, res.Skipped)

	e, _ := d.Entry(1)
	assert.Equal(t, float32(0.05), e.Threshold)
	// Absent fields keep prior values.
	assert.Equal(t, 12274, e.EmitFrequency)
	assert.Equal(t, "192.168.4.23", e.IPAddress)
	assert.Equal(t, "04:e9:e5:19:06:2f", e.MACAddress)
}

func TestApply_SameDocumentTwice(t *testing.T) {
	d := New()
	doc := []byte(`{"ariel": {"emit": 15000, "threshold": 0.03}}`)

	res, err := d.Apply(doc)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, res.Changed)

	res, err = d.Apply(doc)
	require.NoError(t, err)
	assert.Empty(t, res.Changed, "second apply changes nothing")
}

func TestApply_Malformed(t *testing.T) {
	d := New()

	err := d.ApplyDocument([]byte("not: valid: yaml: ["))
	assert.Error(t, err)

	err = d.ApplyDocument([]byte(`["a", "b"]`))
	assert.Error(t, err, "top level must be a mapping")
}

func TestApply_BadEntrySkipped(t *testing.T) {
	d := New()

	// eros's stanza is garbage, sophia's is fine: sophia still applies.
	doc := []byte(`
eros: [1, 2, 3]
sophia:
  threshold: 0.08
`)
	res, err := d.Apply(doc)
	require.NoError(t, err)
	assert.Len(t, res.Skipped, 1)
	assert.Equal(t, []int{3}, res.Changed)

	e, _ := d.Entry(3)
	assert.Equal(t, float32(0.08), e.Threshold)
	e, _ = d.Entry(0)
	assert.Equal(t, float32(0.01), e.Threshold, "eros untouched")
}

func TestApply_DirectoryFull(t *testing.T) {
	d := New()

	res, err := d.Apply([]byte(`{"newcomer": {"emit": 21000}}`))
	require.NoError(t, err)
	assert.Empty(t, res.Added)
	assert.Len(t, res.Skipped, 1)
	assert.Equal(t, 5, d.Len())
}

func TestOnChange(t *testing.T) {
	d := New()

	var gotIdx []int
	d.OnChange(func(i int, e Entry) {
		gotIdx = append(gotIdx, i)
	})

	require.NoError(t, d.SetThreshold(2, 0.04))
	assert.Equal(t, []int{2}, gotIdx)

	// Same value again: no notification.
	require.NoError(t, d.SetThreshold(2, 0.04))
	assert.Equal(t, []int{2}, gotIdx)

	err := d.SetThreshold(9, 0.04)
	assert.Error(t, err)
}
