package fields

import (
	"fmt"
	"sort"

	"f0oster/adsync/records"
)

const (
	TransformPhoneNumber        = "phone"
	TransformPreferredFirstName = "preferred_first_name"
)

var transforms = map[string]TransformFunc{
	TransformPhoneNumber:        TransformPhone,
	TransformPreferredFirstName: PreferredFirstName,
}

// TransformPhone formats a 12 digit number as XX-XXX-XXX-XXXX. Any other
// length is returned unchanged.
func TransformPhone(phone string, _ *records.SourceRecord) string {
	r := []rune(phone)
	if len(r) != 12 {
		return phone
	}
	return fmt.Sprintf("%s-%s-%s-%s", string(r[0:2]), string(r[2:5]), string(r[5:8]), string(r[8:]))
}

// PreferredFirstName prefers the record's name.pref over the legal first name.
func PreferredFirstName(value string, record *records.SourceRecord) string {
	if pref := record.Value("name.pref"); pref != "" {
		return pref
	}
	return value
}

// LookupTransform resolves a transform named in a catalog file.
func LookupTransform(name string) (TransformFunc, bool) {
	fn, ok := transforms[name]
	return fn, ok
}

// TransformNames lists the known transforms, sorted.
func TransformNames() []string {
	names := make([]string, 0, len(transforms))
	for name := range transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
