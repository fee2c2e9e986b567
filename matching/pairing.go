package matching

import (
	"f0oster/adsync/records"
)

// TestPairing forces one directory entry to pair with one source record,
// regardless of email. It is only applied when explicitly configured.
type TestPairing struct {
	DirectoryCN string
	// SourceID is a record id or an org/id key. Empty selects the first
	// source record.
	SourceID string
}

func (p TestPairing) Enabled() bool {
	return p.DirectoryCN != ""
}

// Apply adds the test pairing to mm. It reports the pair it set, or false
// when the pairing is disabled or either side cannot be found.
func (p TestPairing) Apply(mm *MatchMap, recs []records.SourceRecord, entries []records.DirectoryEntry) (Pair, bool) {
	if !p.Enabled() || mm == nil || len(recs) == 0 {
		return Pair{}, false
	}

	rec := p.findRecord(recs)
	if rec == nil {
		return Pair{}, false
	}

	for j := range entries {
		if entries[j].CN == p.DirectoryCN {
			mm.Set(rec, &entries[j])
			return Pair{Record: rec, Entry: &entries[j]}, true
		}
	}
	return Pair{}, false
}

func (p TestPairing) findRecord(recs []records.SourceRecord) *records.SourceRecord {
	if p.SourceID == "" {
		return &recs[0]
	}
	for i := range recs {
		if recs[i].ID == p.SourceID || recs[i].Key() == p.SourceID {
			return &recs[i]
		}
	}
	return nil
}

// ResolveManager sets rec.ManagerDirectoryDN to the DN of the entry matched
// to the record's manager, or clears it when the manager has no match.
func ResolveManager(rec *records.SourceRecord, mm *MatchMap) {
	if rec == nil {
		return
	}
	rec.ManagerDirectoryDN = ""
	if rec.ManagerSourceID == "" {
		return
	}
	if entry, ok := mm.Get(records.RecordKey(rec.OrgID, rec.ManagerSourceID)); ok {
		rec.ManagerDirectoryDN = entry.DN
	}
}
