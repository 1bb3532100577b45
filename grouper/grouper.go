// Package grouper partitions page indices by their key.
package grouper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrDuplicateIndex is returned when the same page index appears twice.
var ErrDuplicateIndex = errors.New("duplicate page index")

// Pair associates a page index with its key.
type Pair struct {
	Index int    `json:"index"`
	Key   string `json:"key"`
}

// Group is one key and the pages carrying it, in ascending page order.
type Group struct {
	Key     string `json:"key"`
	Indices []int  `json:"indices"`
}

// Groups is an ordered partition of pages. Groups appear in the order their
// key was first seen while walking pages by ascending index.
type Groups []Group

// Partition groups pairs by key. Every index ends up in exactly one group.
func Partition(pairs []Pair) (Groups, error) {
	sorted := append([]Pair(nil), pairs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var out Groups
	pos := make(map[string]int)
	for i, p := range sorted {
		if i > 0 && sorted[i-1].Index == p.Index {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateIndex, p.Index)
		}
		n, ok := pos[p.Key]
		if !ok {
			n = len(out)
			pos[p.Key] = n
			out = append(out, Group{Key: p.Key})
		}
		out[n].Indices = append(out[n].Indices, p.Index)
	}
	return out, nil
}

// Len returns the number of pages across all groups.
func (g Groups) Len() int {
	n := 0
	for _, grp := range g {
		n += len(grp.Indices)
	}
	return n
}

// Indices returns every page index in group order.
func (g Groups) Indices() []int {
	out := make([]int, 0, g.Len())
	for _, grp := range g {
		out = append(out, grp.Indices...)
	}
	return out
}

// Lookup returns the pages for key.
func (g Groups) Lookup(key string) ([]int, bool) {
	for _, grp := range g {
		if grp.Key == key {
			return grp.Indices, true
		}
	}
	return nil, false
}

// Keys returns the group keys in order.
func (g Groups) Keys() []string {
	out := make([]string, len(g))
	for i, grp := range g {
		out[i] = grp.Key
	}
	return out
}

// OrderedMap is a JSON object whose members keep insertion order.
type OrderedMap[V any] struct {
	keys []string
	vals []V
}

// Set appends key. Setting an existing key replaces its value in place.
func (m *OrderedMap[V]) Set(key string, v V) {
	for i, k := range m.keys {
		if k == key {
			m.vals[i] = v
			return
		}
	}
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, v)
}

// Len returns the number of members.
func (m *OrderedMap[V]) Len() int { return len(m.keys) }

// Get returns the value for key.
func (m *OrderedMap[V]) Get(key string) (V, bool) {
	for i, k := range m.keys {
		if k == key {
			return m.vals[i], true
		}
	}
	var zero V
	return zero, false
}

// Keys returns the member names in order.
func (m *OrderedMap[V]) Keys() []string { return append([]string(nil), m.keys...) }

func (m OrderedMap[V]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m.vals[i])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *OrderedMap[V]) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected JSON object")
	}
	m.keys, m.vals = nil, nil
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		var v V
		if err := dec.Decode(&v); err != nil {
			return err
		}
		m.Set(key, v)
	}
	_, err = dec.Token()
	return err
}

// MarshalJSON encodes the groups as {key: [indices]} in group order.
func (g Groups) MarshalJSON() ([]byte, error) {
	var m OrderedMap[[]int]
	for _, grp := range g {
		m.Set(grp.Key, grp.Indices)
	}
	return m.MarshalJSON()
}
