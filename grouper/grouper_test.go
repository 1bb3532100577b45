package grouper

import (
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"testing"
)

func TestGroupOrder(t *testing.T) {
	pairs := []Pair{
		{Index: 1, Key: "123"},
		{Index: 2, Key: "123"},
		{Index: 3, Key: "123"},
		{Index: 4, Key: "unread-0004"},
	}
	groups, err := Partition(pairs)
	if err != nil {
		t.Fatalf("Partition() error = %v", err)
	}
	want := Groups{
		{Key: "123", Indices: []int{1, 2, 3}},
		{Key: "unread-0004", Indices: []int{4}},
	}
	if !reflect.DeepEqual(groups, want) {
		t.Fatalf("got %+v, want %+v", groups, want)
	}
}

func TestGroupInterleaved(t *testing.T) {
	// unsorted input, interleaved keys
	pairs := []Pair{
		{Index: 5, Key: "b"},
		{Index: 1, Key: "a"},
		{Index: 3, Key: "a"},
		{Index: 2, Key: "b"},
		{Index: 4, Key: "c"},
	}
	groups, err := Partition(pairs)
	if err != nil {
		t.Fatal(err)
	}
	if keys := groups.Keys(); !reflect.DeepEqual(keys, []string{"a", "b", "c"}) {
		t.Fatalf("keys in first-seen order = %v", keys)
	}
	if idx, _ := groups.Lookup("b"); !reflect.DeepEqual(idx, []int{2, 5}) {
		t.Fatalf("group b = %v", idx)
	}
	if _, ok := groups.Lookup("zzz"); ok {
		t.Fatalf("lookup of missing key succeeded")
	}
}

func TestGroupIsPartition(t *testing.T) {
	var pairs []Pair
	keys := []string{"7", "7", "x", "9", "7", "x", "1", "9"}
	for i, k := range keys {
		pairs = append(pairs, Pair{Index: i + 1, Key: k})
	}
	groups, err := Partition(pairs)
	if err != nil {
		t.Fatal(err)
	}
	if groups.Len() != len(pairs) {
		t.Fatalf("partition lost pages: %d of %d", groups.Len(), len(pairs))
	}
	all := groups.Indices()
	sort.Ints(all)
	for i, idx := range all {
		if idx != i+1 {
			t.Fatalf("page %d missing or duplicated: %v", i+1, all)
		}
	}
	for _, g := range groups {
		if !sort.IntsAreSorted(g.Indices) {
			t.Fatalf("group %q not ascending: %v", g.Key, g.Indices)
		}
	}
}

func TestGroupDuplicateIndex(t *testing.T) {
	_, err := Partition([]Pair{{Index: 1, Key: "a"}, {Index: 1, Key: "b"}})
	if !errors.Is(err, ErrDuplicateIndex) {
		t.Fatalf("expected ErrDuplicateIndex, got %v", err)
	}
}

func TestGroupEmpty(t *testing.T) {
	groups, err := Partition(nil)
	if err != nil || len(groups) != 0 {
		t.Fatalf("Partition(nil) = %v, %v", groups, err)
	}
}

func TestGroupsJSONKeepsOrder(t *testing.T) {
	groups := Groups{
		{Key: "9", Indices: []int{1, 4}},
		{Key: "10", Indices: []int{2}},
		{Key: "1", Indices: []int{3}},
	}
	data, err := json.Marshal(groups)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != `{"9":[1,4],"10":[2],"1":[3]}` {
		t.Fatalf("unexpected JSON %s", got)
	}

	var m OrderedMap[[]int]
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !reflect.DeepEqual(m.Keys(), []string{"9", "10", "1"}) {
		t.Fatalf("decoded key order %v", m.Keys())
	}
	if v, ok := m.Get("10"); !ok || !reflect.DeepEqual(v, []int{2}) {
		t.Fatalf("Get(10) = %v, %v", v, ok)
	}
}
