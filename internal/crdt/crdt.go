// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

// Package crdt implements the convergent replicated sequence that backs a
// collaborative document. Updates are sets of positioned characters plus
// tombstones; merging is set union, so applying updates is idempotent and
// commutative and every replica that has seen the same set of updates
// materializes the same text.
package crdt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// maxDigit bounds a position segment digit. Allocation picks midpoints in
// (0, maxDigit) and descends a level when an interval is exhausted.
const maxDigit = uint64(1) << 32

// Segment is one level of a position identifier. Ties between digits
// allocated concurrently by different replicas are broken by the site id.
type Segment struct {
	Digit uint32 `json:"d"`
	Site  string `json:"s"`
}

// Position is a path of segments. Positions are totally ordered and dense:
// between any two positions another can always be allocated.
type Position []Segment

func (p Position) key() string {
	var b strings.Builder
	for i, seg := range p {
		if i > 0 {
			b.WriteByte('/')
		}
		fmt.Fprintf(&b, "%d.%q", seg.Digit, seg.Site)
	}
	return b.String()
}

// compare returns -1, 0 or 1. Segments are compared digit-first then site;
// a position that is a strict prefix of another sorts before it.
func (p Position) compare(q Position) int {
	for i := 0; i < len(p) && i < len(q); i++ {
		if p[i].Digit != q[i].Digit {
			if p[i].Digit < q[i].Digit {
				return -1
			}
			return 1
		}
		if p[i].Site != q[i].Site {
			if p[i].Site < q[i].Site {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(p) < len(q):
		return -1
	case len(p) > len(q):
		return 1
	}
	return 0
}

// allocate returns a fresh position strictly between left and right for the
// given site. Either bound may be nil, meaning the start or end of the
// sequence.
//
// The right bound only constrains a level while the prefix built so far
// matches it; once the prefix sorts strictly below the right bound, deeper
// levels are free up to maxDigit.
func allocate(left, right Position, site string) Position {
	var pos Position
	rightActive := true
	for i := 0; ; i++ {
		lo, hi := uint64(0), maxDigit
		if i < len(left) {
			lo = uint64(left[i].Digit)
		}
		if rightActive && i < len(right) {
			hi = uint64(right[i].Digit)
		}
		if hi > lo+1 {
			return append(pos, Segment{Digit: uint32(lo + (hi-lo)/2), Site: site})
		}
		// No room at this level; extend the prefix and descend.
		switch {
		case i < len(left):
			pos = append(pos, left[i])
			if rightActive && (i >= len(right) || left[i] != right[i]) {
				rightActive = false
			}
		case rightActive && i < len(right) && right[i].Digit == 0:
			// The right bound descends through a zero digit; stay inside
			// its subtree. A position never ends on a zero digit, so the
			// bound keeps descending until a level with room.
			pos = append(pos, right[i])
		default:
			pos = append(pos, Segment{Digit: 0, Site: site})
			rightActive = false
		}
	}
}

// Item is a single character anchored at a position.
type Item struct {
	Pos  Position `json:"p"`
	Text string   `json:"t"`
}

// Update is the wire form of a set of changes: new items and/or the keys of
// items that have been removed. The full state of a document is itself a
// valid Update containing every item and tombstone.
type Update struct {
	Items   []Item   `json:"items,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// Doc is a replica of a collaborative document.
type Doc struct {
	mu    sync.RWMutex
	site  string
	items map[string]Item
	tombs map[string]struct{}
}

// New returns an empty replica. The site id disambiguates positions
// allocated concurrently by different replicas and must be unique per
// replica within a document.
func New(site string) *Doc {
	return &Doc{
		site:  site,
		items: make(map[string]Item),
		tombs: make(map[string]struct{}),
	}
}

// ApplyUpdate merges encoded update bytes into the replica. Applying the
// same update more than once is a no-op. A rejected update leaves the
// replica untouched: every item is validated before any is written.
func (d *Doc) ApplyUpdate(b []byte) error {
	var u Update
	if err := json.Unmarshal(b, &u); err != nil {
		return fmt.Errorf("decode update: %w", err)
	}
	for _, it := range u.Items {
		if len(it.Pos) == 0 {
			return fmt.Errorf("decode update: item with empty position")
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, it := range u.Items {
		d.items[it.Pos.key()] = it
	}
	for _, k := range u.Removed {
		d.tombs[k] = struct{}{}
	}
	return nil
}

// EncodeStateAsUpdate encodes the full replica state as a single update.
// The encoding is deterministic: two replicas holding the same item and
// tombstone sets produce byte-identical output.
func (d *Doc) EncodeStateAsUpdate() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u := Update{
		Items:   d.sortedItemsLocked(),
		Removed: make([]string, 0, len(d.tombs)),
	}
	for k := range d.tombs {
		u.Removed = append(u.Removed, k)
	}
	sort.Strings(u.Removed)
	if len(u.Removed) == 0 {
		u.Removed = nil
	}
	if len(u.Items) == 0 {
		u.Items = nil
	}
	b, err := json.Marshal(u)
	if err != nil {
		// Update contains only marshalable fields.
		panic(err)
	}
	return b
}

// Text materializes the visible document content.
func (d *Doc) Text() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var b strings.Builder
	for _, it := range d.visibleLocked() {
		b.WriteString(it.Text)
	}
	return b.String()
}

// Len returns the number of visible characters.
func (d *Doc) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.visibleLocked())
}

// runStride spaces the characters of one insertion run inside the subtree
// of the run's first character, leaving room for later inserts between them.
const runStride = uint32(1) << 16

// InsertAt inserts text at the given visible index, applies it locally and
// returns the encoded update for relaying to peers.
//
// The first character is allocated between its neighbours; the rest of the
// run nests inside that character's subtree. Runs inserted concurrently at
// the same index therefore stay contiguous instead of interleaving
// character by character.
func (d *Doc) InsertAt(index int, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("insert: empty text")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	visible := d.visibleLocked()
	if index < 0 || index > len(visible) {
		return nil, fmt.Errorf("insert: index %d out of range [0,%d]", index, len(visible))
	}
	var left, right Position
	if index > 0 {
		left = visible[index-1].Pos
	}
	if index < len(visible) {
		right = visible[index].Pos
	}

	first := allocate(left, right, d.site)
	u := Update{}
	base, prev, ladder := first, first, uint32(0)
	for i, r := range text {
		pos := first
		if i > 0 {
			if ladder > ^uint32(0)-2*runStride {
				// Level exhausted; nest the remainder one deeper.
				base, ladder = prev, 0
			}
			ladder += runStride
			pos = make(Position, len(base)+1)
			copy(pos, base)
			pos[len(base)] = Segment{Digit: ladder, Site: d.site}
		}
		it := Item{Pos: pos, Text: string(r)}
		d.items[pos.key()] = it
		u.Items = append(u.Items, it)
		prev = pos
	}
	return json.Marshal(u)
}

// DeleteAt removes n visible characters starting at index, applies the
// removal locally and returns the encoded update.
func (d *Doc) DeleteAt(index, n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	visible := d.visibleLocked()
	if index < 0 || n < 0 || index+n > len(visible) {
		return nil, fmt.Errorf("delete: range [%d,%d) out of bounds", index, index+n)
	}
	u := Update{}
	for _, it := range visible[index : index+n] {
		k := it.Pos.key()
		d.tombs[k] = struct{}{}
		u.Removed = append(u.Removed, k)
	}
	return json.Marshal(u)
}

func (d *Doc) sortedItemsLocked() []Item {
	items := make([]Item, 0, len(d.items))
	for _, it := range d.items {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Pos.compare(items[j].Pos) < 0
	})
	return items
}

func (d *Doc) visibleLocked() []Item {
	items := d.sortedItemsLocked()
	visible := items[:0]
	for _, it := range items {
		if _, dead := d.tombs[it.Pos.key()]; !dead {
			visible = append(visible, it)
		}
	}
	return visible
}
