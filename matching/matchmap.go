package matching

import (
	"f0oster/adsync/records"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Pair is one source record together with the directory entry it matched.
type Pair struct {
	Record *records.SourceRecord
	Entry  *records.DirectoryEntry
}

// MatchMap maps a source record key to at most one directory entry.
// Iteration follows the order in which keys were first inserted.
type MatchMap struct {
	order   []string
	records map[string]*records.SourceRecord
	entries map[string]*records.DirectoryEntry
}

func NewMatchMap() *MatchMap {
	return &MatchMap{
		records: make(map[string]*records.SourceRecord),
		entries: make(map[string]*records.DirectoryEntry),
	}
}

// Set pairs rec with entry, replacing any earlier pairing for the same key.
// A replaced key keeps its original position.
func (m *MatchMap) Set(rec *records.SourceRecord, entry *records.DirectoryEntry) {
	key := rec.Key()
	if _, exists := m.entries[key]; !exists {
		m.order = append(m.order, key)
	}
	m.records[key] = rec
	m.entries[key] = entry
}

// Get returns the entry matched to a source record key.
func (m *MatchMap) Get(key string) (*records.DirectoryEntry, bool) {
	if m == nil {
		return nil, false
	}
	entry, ok := m.entries[key]
	return entry, ok
}

func (m *MatchMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.order)
}

// Pairs returns every matched pair in insertion order.
func (m *MatchMap) Pairs() []Pair {
	if m == nil {
		return nil
	}
	pairs := make([]Pair, 0, len(m.order))
	for _, key := range m.order {
		pairs = append(pairs, Pair{Record: m.records[key], Entry: m.entries[key]})
	}
	return pairs
}

type AmbiguityKind string

const (
	// MultipleEntries: several directory entries matched one source record.
	MultipleEntries AmbiguityKind = "multiple_entries"
	// SharedEntry: one directory entry matched several source records.
	SharedEntry AmbiguityKind = "shared_entry"
)

// Ambiguity describes a match that was not one-to-one. The MatchMap still
// holds the last match seen; the ambiguity is reported so it can be logged.
type Ambiguity struct {
	Kind       AmbiguityKind
	SourceKeys []string
	DNs        []string
}

// Build pairs every source record with the directory entries it matches.
// When several entries match one record the last one in directory order
// wins. Records keep their relative order in the resulting map.
func Build(recs []records.SourceRecord, entries []records.DirectoryEntry, keys Keys) (*MatchMap, []Ambiguity) {
	lower := cases.Lower(language.Und)
	mm := NewMatchMap()

	var ambiguities []Ambiguity
	claims := make(map[string][]string)

	for i := range recs {
		rec := &recs[i]
		var matchedDNs []string
		for j := range entries {
			entry := &entries[j]
			if !matches(lower, rec, entry, keys) {
				continue
			}
			mm.Set(rec, entry)
			matchedDNs = append(matchedDNs, entry.DN)
			claims[entry.DN] = append(claims[entry.DN], rec.Key())
		}
		if len(matchedDNs) > 1 {
			ambiguities = append(ambiguities, Ambiguity{
				Kind:       MultipleEntries,
				SourceKeys: []string{rec.Key()},
				DNs:        matchedDNs,
			})
		}
	}

	for j := range entries {
		dn := entries[j].DN
		if claimed := claims[dn]; len(claimed) > 1 {
			ambiguities = append(ambiguities, Ambiguity{
				Kind:       SharedEntry,
				SourceKeys: claimed,
				DNs:        []string{dn},
			})
			delete(claims, dn)
		}
	}

	return mm, ambiguities
}
