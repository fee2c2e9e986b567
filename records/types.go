package records

import (
	"encoding/json"
	"strconv"
	"strings"
)

// SourceRecord is one filled position read from the HR system.
// Fields holds only the dotted keys requested through the field catalog.
type SourceRecord struct {
	// OrgID is the organization the record was fetched from. Record ids are
	// only unique within one organization.
	OrgID string

	// ID is the HR job id
	ID string

	// Fields maps a dotted HR key (e.g. "location.address.city") to its scalar value
	Fields map[string]string

	// ManagerSourceID is the HR job id of the record's manager, as fetched
	ManagerSourceID string

	// ManagerDirectoryDN is the DN of the manager's directory entry, set by manager resolution
	ManagerDirectoryDN string
}

// Key returns the identity used to match and cross-reference records
// across organizations.
func (r *SourceRecord) Key() string {
	return RecordKey(r.OrgID, r.ID)
}

// Value returns the scalar stored under a dotted key, or "" when absent.
func (r *SourceRecord) Value(key string) string {
	if r == nil || r.Fields == nil {
		return ""
	}
	return r.Fields[key]
}

func RecordKey(orgID, id string) string {
	return orgID + "/" + id
}

// DirectoryEntry is a read-only snapshot of one directory account.
type DirectoryEntry struct {
	DN         string
	CN         string
	Attributes map[string]string
}

// Get returns the first value of an attribute, or "" when it is not set.
func (e *DirectoryEntry) Get(attribute string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[attribute]
}

// ScalarString renders a decoded JSON value as the string written to the
// directory. Objects and arrays are not scalars and report false.
func ScalarString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", true
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	default:
		return "", false
	}
}

// LocalPart returns the portion of an email address before the first '@'.
func LocalPart(address string) string {
	local, _, _ := strings.Cut(address, "@")
	return local
}
