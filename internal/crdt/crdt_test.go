// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

package crdt

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAndText(t *testing.T) {
	d := New("site-a")
	_, err := d.InsertAt(0, "hello")
	require.NoError(t, err)
	_, err = d.InsertAt(5, " world")
	require.NoError(t, err)
	_, err = d.InsertAt(0, ">> ")
	require.NoError(t, err)
	assert.Equal(t, ">> hello world", d.Text())
	assert.Equal(t, 14, d.Len())
}

func TestDelete(t *testing.T) {
	d := New("site-a")
	_, err := d.InsertAt(0, "abcdef")
	require.NoError(t, err)
	up, err := d.DeleteAt(1, 3)
	require.NoError(t, err)
	assert.Equal(t, "aef", d.Text())

	// Deletions converge on a second replica that saw the insert.
	other := New("site-b")
	require.NoError(t, other.ApplyUpdate(d.EncodeStateAsUpdate()))
	require.NoError(t, other.ApplyUpdate(up))
	assert.Equal(t, "aef", other.Text())
}

func TestApplyUpdateIdempotent(t *testing.T) {
	a := New("site-a")
	up, err := a.InsertAt(0, "same")
	require.NoError(t, err)

	b := New("site-b")
	require.NoError(t, b.ApplyUpdate(up))
	once := b.EncodeStateAsUpdate()
	require.NoError(t, b.ApplyUpdate(up))
	twice := b.EncodeStateAsUpdate()
	assert.Equal(t, once, twice)
}

func TestConcurrentInsertsConverge(t *testing.T) {
	a := New("site-a")
	b := New("site-b")

	upA, err := a.InsertAt(0, "Hello from A. ")
	require.NoError(t, err)
	upB, err := b.InsertAt(0, "And B adds this. ")
	require.NoError(t, err)

	// Cross-deliver in opposite orders.
	require.NoError(t, a.ApplyUpdate(upB))
	require.NoError(t, b.ApplyUpdate(upA))

	assert.Equal(t, a.Text(), b.Text())
	assert.Equal(t, a.EncodeStateAsUpdate(), b.EncodeStateAsUpdate())
	assert.Equal(t, 1, strings.Count(a.Text(), "Hello from A. "))
	assert.Equal(t, 1, strings.Count(a.Text(), "And B adds this. "))
	assert.Len(t, a.Text(), len("Hello from A. ")+len("And B adds this. "))
}

func TestConvergenceUnderShuffledDelivery(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	sites := []*Doc{New("s1"), New("s2"), New("s3")}
	var updates [][]byte
	words := []string{"alpha ", "bravo ", "charlie ", "delta ", "echo "}
	for i, w := range words {
		d := sites[i%len(sites)]
		idx := 0
		if n := d.Len(); n > 0 {
			idx = rng.Intn(n + 1)
		}
		up, err := d.InsertAt(idx, w)
		require.NoError(t, err)
		updates = append(updates, up)
	}

	// Every replica receives every peer update in a different order.
	for _, d := range sites {
		shuffled := make([][]byte, len(updates))
		copy(shuffled, updates)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		for _, up := range shuffled {
			require.NoError(t, d.ApplyUpdate(up))
		}
	}

	for _, d := range sites[1:] {
		assert.Equal(t, sites[0].Text(), d.Text())
		assert.Equal(t, sites[0].EncodeStateAsUpdate(), d.EncodeStateAsUpdate())
	}
	for _, w := range words {
		assert.Equal(t, 1, strings.Count(sites[0].Text(), w), "word %q duplicated or lost", w)
	}
}

func TestStateAsUpdateRoundTrip(t *testing.T) {
	a := New("site-a")
	_, err := a.InsertAt(0, "resumed")
	require.NoError(t, err)
	state := a.EncodeStateAsUpdate()

	fresh := New("server")
	require.NoError(t, fresh.ApplyUpdate(state))
	assert.Equal(t, "resumed", fresh.Text())
	assert.Equal(t, state, fresh.EncodeStateAsUpdate())
}

func TestApplyUpdateRejectsGarbage(t *testing.T) {
	d := New("site-a")
	_, err := d.InsertAt(0, "keep")
	require.NoError(t, err)
	before := d.EncodeStateAsUpdate()

	assert.Error(t, d.ApplyUpdate([]byte("not json")))
	assert.Error(t, d.ApplyUpdate([]byte(`{"items":[{"p":[],"t":"x"}]}`)))
	assert.Equal(t, before, d.EncodeStateAsUpdate())
}

func TestApplyUpdateAllOrNothing(t *testing.T) {
	d := New("site-a")
	_, err := d.InsertAt(0, "keep")
	require.NoError(t, err)
	before := d.EncodeStateAsUpdate()

	// Valid items ahead of an invalid one must not be half-applied.
	mixed := `{"items":[{"p":[{"d":7,"s":"x"}],"t":"Z"},{"p":[],"t":"y"}],"removed":["bogus"]}`
	assert.Error(t, d.ApplyUpdate([]byte(mixed)))
	assert.Equal(t, before, d.EncodeStateAsUpdate())
	assert.Equal(t, "keep", d.Text())
}

func TestPositionOrdering(t *testing.T) {
	left := Position{{Digit: 10, Site: "a"}}
	right := Position{{Digit: 11, Site: "a"}}
	mid := allocate(left, right, "b")
	assert.Equal(t, -1, left.compare(mid))
	assert.Equal(t, -1, mid.compare(right))

	// Same interval, two sites: distinct and deterministically ordered.
	m1 := allocate(nil, nil, "a")
	m2 := allocate(nil, nil, "b")
	assert.NotEqual(t, m1.key(), m2.key())
	assert.Equal(t, -1, m1.compare(m2))
}
