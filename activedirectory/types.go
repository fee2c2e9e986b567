package activedirectory

import (
	"github.com/go-ldap/ldap/v3"
)

// Replacement sets a single-valued attribute on an entry.
type Replacement struct {
	Attribute string
	Value     string
}

// ldapConn is the subset of *ldap.Conn used by an Instance.
type ldapConn interface {
	Bind(username, password string) error
	Search(searchRequest *ldap.SearchRequest) (*ldap.SearchResult, error)
	Modify(modifyRequest *ldap.ModifyRequest) error
	Unbind() error
	Close() error
}

type dialFunc func(url string) (ldapConn, error)
