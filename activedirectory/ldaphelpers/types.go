package ldaphelpers

const (
	AllUserObjects = "(&(objectCategory=person)(objectClass=user))"

	// LDAP_MATCHING_RULE_BIT_AND
	MatchingRuleBitAnd = "1.2.840.113556.1.4.803"

	// ADS_UF_ACCOUNTDISABLE
	AccountDisable = 0x2
)
