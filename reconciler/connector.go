package reconciler

import (
	"context"

	"f0oster/adsync/activedirectory"
)

// LDAPConnector opens an activedirectory session bound as Principal.
type LDAPConnector struct {
	URL        string
	BaseDN     string
	Principal  string
	Credential string
	Options    []activedirectory.Option
}

func (c LDAPConnector) Connect(ctx context.Context) (Directory, error) {
	ad := activedirectory.NewInstance(c.URL, c.BaseDN, c.Options...)
	if err := ad.Connect(ctx, c.Principal, c.Credential); err != nil {
		return nil, err
	}
	return ad, nil
}
