package activedirectory

import (
	"context"
	"fmt"
	"net"
	"time"

	"f0oster/adsync/activedirectory/ldaphelpers"
	"f0oster/adsync/records"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"
)

const DefaultDialTimeout = 30 * time.Second

// Instance is a single directory session. It is owned by one run and is not
// safe for concurrent use.
type Instance struct {
	URL             string
	BaseDn          string
	PageSize        uint32
	SizeLimit       int
	ExcludeDisabled bool

	ldapConnection ldapConn
	dial           dialFunc
	log            zerolog.Logger
}

type Option func(*Instance)

func WithLogger(logger zerolog.Logger) Option {
	return func(ad *Instance) { ad.log = logger }
}

// WithPaging sets the search page size; zero disables paging.
func WithPaging(pageSize uint32) Option {
	return func(ad *Instance) { ad.PageSize = pageSize }
}

func WithSizeLimit(limit int) Option {
	return func(ad *Instance) { ad.SizeLimit = limit }
}

func WithExcludeDisabled(exclude bool) Option {
	return func(ad *Instance) { ad.ExcludeDisabled = exclude }
}

func withDialer(dial dialFunc) Option {
	return func(ad *Instance) { ad.dial = dial }
}

func NewInstance(url, baseDn string, opts ...Option) *Instance {
	ad := &Instance{
		URL:    url,
		BaseDn: baseDn,
		log:    zerolog.Nop(),
		dial:   dialURL,
	}
	for _, opt := range opts {
		opt(ad)
	}
	return ad
}

func dialURL(url string) (ldapConn, error) {
	conn, err := ldap.DialURL(url, ldap.DialWithDialer(&net.Dialer{Timeout: DefaultDialTimeout}))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Connect dials the directory and binds as principal. A failed bind closes
// the connection before returning.
func (ad *Instance) Connect(ctx context.Context, principal, credential string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ad.log.Info().Str("url", ad.URL).Msg("Connecting to LDAP server")

	conn, err := ad.dial(ad.URL)
	if err != nil {
		return wrapError("dial", ad.URL, err)
	}

	if err := conn.Bind(principal, credential); err != nil {
		conn.Close()
		return wrapError("bind", principal, err)
	}

	ad.ldapConnection = conn
	ad.log.Info().Str("url", ad.URL).Str("principal", principal).Msg("Bound to LDAP server")
	return nil
}

// Connected reports whether the session holds a bound connection.
func (ad *Instance) Connected() bool {
	return ad != nil && ad.ldapConnection != nil
}

// FetchUserEntries returns every user entry under the base DN with the given
// attributes. Pages are buffered; if any page fails nothing is returned.
func (ad *Instance) FetchUserEntries(ctx context.Context, attributes []string) ([]records.DirectoryEntry, error) {
	if !ad.Connected() {
		return nil, ErrNotConnected
	}

	filter := ldaphelpers.UserObjects(ad.ExcludeDisabled).String()
	entries, err := ad.search(ctx, filter, attributes)
	if err != nil {
		return nil, err
	}

	out := make([]records.DirectoryEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toDirectoryEntry(entry, attributes))
	}
	return out, nil
}

func (ad *Instance) search(ctx context.Context, filter string, attributes []string) ([]*ldap.Entry, error) {
	var controls []ldap.Control
	var pageControl *ldap.ControlPaging
	if ad.PageSize > 0 {
		pageControl = ldap.NewControlPaging(ad.PageSize)
		controls = append(controls, pageControl)
	}

	request := ldap.NewSearchRequest(
		ad.BaseDn,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		ad.SizeLimit, 0, false,
		filter,
		attributes,
		controls,
	)

	var all []*ldap.Entry
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := ad.ldapConnection.Search(request)
		if err != nil {
			return nil, wrapError("search", ad.BaseDn, err)
		}
		all = append(all, result.Entries...)

		ad.log.Debug().
			Int("page", page).
			Int("page_entries", len(result.Entries)).
			Int("total_entries", len(all)).
			Msg("Fetched directory page")

		if pageControl == nil {
			break
		}

		// Check if there's a next page
		response, ok := ldap.FindControl(result.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
		if !ok || len(response.Cookie) == 0 {
			break
		}
		pageControl.SetCookie(response.Cookie)
	}

	return all, nil
}

func toDirectoryEntry(entry *ldap.Entry, attributes []string) records.DirectoryEntry {
	out := records.DirectoryEntry{
		DN:         entry.DN,
		CN:         entry.GetEqualFoldAttributeValue("cn"),
		Attributes: make(map[string]string, len(attributes)),
	}
	for _, name := range attributes {
		if name == "dn" {
			continue
		}
		if value := entry.GetEqualFoldAttributeValue(name); value != "" {
			out.Attributes[name] = value
		}
	}
	return out
}

// Modify replaces the given attributes on dn in a single request.
func (ad *Instance) Modify(ctx context.Context, dn string, replacements []Replacement) error {
	if !ad.Connected() {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(replacements) == 0 {
		return nil
	}

	request := ldap.NewModifyRequest(dn, nil)
	for _, r := range replacements {
		request.Replace(r.Attribute, []string{r.Value})
	}

	if err := ad.ldapConnection.Modify(request); err != nil {
		return wrapError("modify", dn, err)
	}
	return nil
}

// Close unbinds and closes the connection. It is safe to call on a nil or
// never connected Instance, and more than once.
func (ad *Instance) Close() error {
	if !ad.Connected() {
		return nil
	}
	conn := ad.ldapConnection
	ad.ldapConnection = nil

	ad.log.Info().Str("url", ad.URL).Msg("Disconnecting from LDAP server")

	unbindErr := conn.Unbind()
	closeErr := conn.Close()
	if unbindErr != nil {
		return fmt.Errorf("unbind: %w", unbindErr)
	}
	return closeErr
}
