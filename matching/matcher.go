package matching

import (
	"f0oster/adsync/records"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Keys names the attributes compared when pairing a source record with a
// directory entry.
type Keys struct {
	SourceEmailKey   string
	DirectoryMailKey string
}

// Matches reports whether rec and entry refer to the same person: both
// addresses are present and the directory local part, lowercased, equals the
// source local part. The source side is compared as-is and domains are ignored.
func Matches(rec *records.SourceRecord, entry *records.DirectoryEntry, keys Keys) bool {
	return matches(cases.Lower(language.Und), rec, entry, keys)
}

func matches(lower cases.Caser, rec *records.SourceRecord, entry *records.DirectoryEntry, keys Keys) bool {
	sourceMail := rec.Value(keys.SourceEmailKey)
	directoryMail := entry.Get(keys.DirectoryMailKey)
	if sourceMail == "" || directoryMail == "" {
		return false
	}
	return lower.String(records.LocalPart(directoryMail)) == records.LocalPart(sourceMail)
}
