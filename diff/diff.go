package diff

import (
	"f0oster/adsync/fields"
	"f0oster/adsync/records"
)

// ComputeChanges compares a source record against its directory entry and
// returns the changes required, in catalog order. Empty source values are
// skipped so directory values are never cleared. The manager mapping reads
// the record's resolved manager DN rather than its source value.
func ComputeChanges(catalog *fields.Catalog, rec *records.SourceRecord, entry *records.DirectoryEntry) []Change {
	var changes []Change

	for _, m := range catalog.Mappings {
		value := sourceValue(m, rec)
		if value == "" {
			continue
		}

		newVal := m.Apply(value, rec)
		oldVal := entry.Get(m.DirectoryKey)
		if newVal == "" || newVal == oldVal {
			continue
		}

		changes = append(changes, Change{
			Label:         m.Label,
			DirectoryKey:  m.DirectoryKey,
			PreviousValue: oldVal,
			NewValue:      newVal,
		})
	}

	return changes
}

func sourceValue(m fields.FieldMapping, rec *records.SourceRecord) string {
	if m.ManagerReference {
		if rec == nil {
			return ""
		}
		return rec.ManagerDirectoryDN
	}
	return rec.Value(m.SourceKey)
}
