package ldaphelpers

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

type Filter interface {
	String() string
}

type rawFilter string

func (f rawFilter) String() string {
	return string(f)
}

// Logical operators
type andFilter struct {
	parts []Filter
}

func And(filters ...Filter) Filter {
	return andFilter{parts: filters}
}
func (f andFilter) String() string {
	var parts []string
	for _, p := range f.parts {
		parts = append(parts, p.String())
	}
	return "(&" + strings.Join(parts, "") + ")"
}

type notFilter struct {
	part Filter
}

func Not(f Filter) Filter {
	return notFilter{part: f}
}
func (f notFilter) String() string {
	return "(!" + f.part.String() + ")"
}

// Eq matches an attribute against a literal value; the value is escaped.
func Eq(attr, value string) Filter {
	return rawFilter("(" + attr + "=" + ldap.EscapeFilter(value) + ")")
}

// BitAnd matches entries whose integer attribute has every bit of mask set.
func BitAnd(attr string, mask int64) Filter {
	return rawFilter(fmt.Sprintf("(%s:%s:=%d)", attr, MatchingRuleBitAnd, mask))
}

// UserObjects returns the filter for user accounts, optionally excluding
// disabled accounts.
func UserObjects(excludeDisabled bool) Filter {
	if !excludeDisabled {
		return rawFilter(AllUserObjects)
	}
	return And(Eq("objectCategory", "person"), Eq("objectClass", "user"), Not(BitAnd("userAccountControl", AccountDisable)))
}
