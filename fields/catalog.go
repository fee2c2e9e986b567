package fields

import (
	"errors"
	"fmt"

	"f0oster/adsync/records"
)

// SourceIDField is the HR attribute carrying the job id. It is always
// requested first.
const SourceIDField = "jobId"

// MailAttribute is the directory attribute used for matching.
const MailAttribute = "mail"

// TransformFunc converts an HR value into the value stored in the directory.
// It must not modify the record and must be idempotent.
type TransformFunc func(value string, record *records.SourceRecord) string

// FieldMapping maps one HR attribute onto one directory attribute.
type FieldMapping struct {
	Label           string   `yaml:"label"`
	SourceKey       string   `yaml:"source"`
	DirectoryKey    string   `yaml:"directory"`
	ExtraSourceKeys []string `yaml:"extra_source,omitempty"`
	TransformName   string   `yaml:"transform,omitempty"`

	// ManagerReference marks the mapping whose HR value is another job's id
	// and whose directory value is the manager's DN.
	ManagerReference bool `yaml:"manager_reference,omitempty"`

	Transform TransformFunc `yaml:"-"`
}

// Apply runs the mapping's transform, if any.
func (m FieldMapping) Apply(value string, record *records.SourceRecord) string {
	if m.Transform == nil {
		return value
	}
	return m.Transform(value, record)
}

// Catalog is an ordered list of field mappings. Order is significant: diffs
// are produced in declaration order.
type Catalog struct {
	Mappings []FieldMapping
}

func NewCatalog(mappings ...FieldMapping) *Catalog {
	return &Catalog{Mappings: mappings}
}

// DefaultCatalog returns the built-in ChartHop to Active Directory mapping.
// For a list of AD user attributes see http://www.kouti.com/tables/userattributes.htm
func DefaultCatalog() *Catalog {
	return NewCatalog(
		FieldMapping{Label: "Name", SourceKey: "name", DirectoryKey: "displayName"},
		FieldMapping{
			Label:           "First Name",
			SourceKey:       "name.first",
			DirectoryKey:    "givenName",
			ExtraSourceKeys: []string{"name.pref"},
			TransformName:   TransformPreferredFirstName,
			Transform:       PreferredFirstName,
		},
		FieldMapping{Label: "Last Name", SourceKey: "name.last", DirectoryKey: "sn"},
		FieldMapping{Label: "Department", SourceKey: "department.name", DirectoryKey: "department"},
		FieldMapping{Label: "Office Name", SourceKey: "location.name", DirectoryKey: "physicalDeliveryOfficeName"},
		FieldMapping{Label: "Street", SourceKey: "location.address.street1", DirectoryKey: "streetAddress"},
		FieldMapping{Label: "City", SourceKey: "location.address.city", DirectoryKey: "l"},
		FieldMapping{Label: "State", SourceKey: "location.address.state", DirectoryKey: "st"},
		FieldMapping{Label: "Country", SourceKey: "location.address.country", DirectoryKey: "co"},
		FieldMapping{Label: "Postal Code", SourceKey: "location.address.postal", DirectoryKey: "postalCode"},
		FieldMapping{Label: "Title", SourceKey: "title", DirectoryKey: "title"},
		FieldMapping{
			Label:         "Work Phone",
			SourceKey:     "contact.workPhone",
			DirectoryKey:  "telephoneNumber",
			TransformName: TransformPhoneNumber,
			Transform:     TransformPhone,
		},
		FieldMapping{Label: "Work Email", SourceKey: "contact.workEmail", DirectoryKey: MailAttribute},
		FieldMapping{Label: "Manager", SourceKey: "manager", DirectoryKey: "manager", ManagerReference: true},
	)
}

// Validate checks the catalog and reports every violation.
func (c *Catalog) Validate() error {
	var errs []error
	seen := make(map[string]string, len(c.Mappings))
	managers := 0

	for i, m := range c.Mappings {
		if m.Label == "" {
			errs = append(errs, fmt.Errorf("mapping %d: label is required", i))
		}
		if m.SourceKey == "" {
			errs = append(errs, fmt.Errorf("mapping %d (%s): source key is required", i, m.Label))
		}
		if m.DirectoryKey == "" {
			errs = append(errs, fmt.Errorf("mapping %d (%s): directory key is required", i, m.Label))
		} else if prev, dup := seen[m.DirectoryKey]; dup {
			errs = append(errs, fmt.Errorf("mapping %d (%s): directory key %q already mapped by %q", i, m.Label, m.DirectoryKey, prev))
		} else {
			seen[m.DirectoryKey] = m.Label
		}
		if m.TransformName != "" && m.Transform == nil {
			errs = append(errs, fmt.Errorf("mapping %d (%s): transform %q is not resolved", i, m.Label, m.TransformName))
		}
		if m.ManagerReference {
			managers++
		}
	}

	if managers > 1 {
		errs = append(errs, fmt.Errorf("at most one manager reference mapping is allowed, found %d", managers))
	}

	return errors.Join(errs...)
}

// SourceFields returns the HR fields to request: the id field followed by
// each mapping's source key and extra keys, without duplicates.
func (c *Catalog) SourceFields() []string {
	out := []string{SourceIDField}
	seen := map[string]bool{SourceIDField: true}

	add := func(key string) {
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, key)
	}

	for _, m := range c.Mappings {
		add(m.SourceKey)
		for _, extra := range m.ExtraSourceKeys {
			add(extra)
		}
	}
	return out
}

// DirectoryAttributes returns dn, cn and sn followed by every mapped
// directory attribute.
func (c *Catalog) DirectoryAttributes() []string {
	out := []string{"dn", "cn", "sn"}
	seen := map[string]bool{"dn": true, "cn": true, "sn": true}

	for _, m := range c.Mappings {
		if seen[m.DirectoryKey] {
			continue
		}
		seen[m.DirectoryKey] = true
		out = append(out, m.DirectoryKey)
	}
	return out
}

// EmailSourceKey returns the HR key mapped onto the directory mail attribute.
func (c *Catalog) EmailSourceKey() (string, bool) {
	for _, m := range c.Mappings {
		if m.DirectoryKey == MailAttribute {
			return m.SourceKey, true
		}
	}
	return "", false
}

// ManagerMapping returns the manager reference mapping, if the catalog has one.
func (c *Catalog) ManagerMapping() (FieldMapping, bool) {
	for _, m := range c.Mappings {
		if m.ManagerReference {
			return m, true
		}
	}
	return FieldMapping{}, false
}
