package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const DefaultEnvFile = "settings.env"

// Environment variable names.
const (
	EnvOrgID            = "CHARTHOP_ORG_ID"
	EnvToken            = "CHARTHOP_TOKEN"
	EnvBaseURL          = "CHARTHOP_BASE_URL"
	EnvPageSize         = "CHARTHOP_PAGE_SIZE"
	EnvTimeout          = "CHARTHOP_TIMEOUT"
	EnvLDAPURL          = "LDAP_URL"
	EnvLDAPUser         = "LDAP_USER"
	EnvLDAPPass         = "LDAP_PASS"
	EnvLDAPSearch       = "LDAP_SEARCH"
	EnvLDAPPagedLimit   = "LDAP_PAGED_LIMIT"
	EnvLDAPSizeLimit    = "LDAP_SIZE_LIMIT"
	EnvExcludeDisabled  = "LDAP_EXCLUDE_DISABLED"
	EnvAllowList        = "SYNC_ALLOWLIST"
	EnvTestMatch        = "SYNC_TESTMATCH"
	EnvTestMatchSource  = "SYNC_TESTMATCH_SOURCE"
	EnvFetchConcurrency = "FETCH_CONCURRENCY"
	EnvFieldMapFile     = "FIELD_MAP_FILE"
	EnvAuditDSN         = "AUDIT_DSN"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogFormat        = "LOG_FORMAT"
)

// Organization is one HR organization id and its API token.
type Organization struct {
	ID    string
	Token string
}

// SyncConfiguration holds every resolved setting for a run. It is built once
// at startup and passed down explicitly.
type SyncConfiguration struct {
	OrgIDs []string
	Tokens []string

	CharthopBaseURL  string        `default:"https://api.charthop.com"`
	CharthopPageSize int           `default:"1000"`
	CharthopTimeout  time.Duration `default:"60s"`

	LDAPURL             string
	LDAPUser            string
	LDAPPass            string
	LDAPSearch          string
	LDAPPagedLimit      uint32 `default:"100"`
	LDAPSizeLimit       int    `default:"0"`
	LDAPExcludeDisabled bool   `default:"false"`

	AllowList       []string
	TestMatch       string
	TestMatchSource string

	FetchConcurrency int `default:"1"`
	FieldMapFile     string
	AuditDSN         string

	LogLevel  string `default:"info"`
	LogFormat string `default:"auto"`
}

// LoadEnvConfig reads settings from the environment, falling back to values
// in envFile and then to defaults. A missing envFile is not an error.
func LoadEnvConfig(envFile string) (*SyncConfiguration, error) {
	v := viper.New()
	v.AutomaticEnv()

	if envFile != "" {
		fileValues, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error loading %s: %w", envFile, err)
		}
		for key, value := range fileValues {
			v.SetDefault(key, value)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*SyncConfiguration, error) {
	cfg := &SyncConfiguration{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set default values: %w", err)
	}

	cfg.OrgIDs = splitList(v.GetString(EnvOrgID))
	cfg.Tokens = splitList(v.GetString(EnvToken))
	cfg.AllowList = splitList(v.GetString(EnvAllowList))

	setString(v, EnvBaseURL, &cfg.CharthopBaseURL)
	setString(v, EnvLDAPURL, &cfg.LDAPURL)
	setString(v, EnvLDAPUser, &cfg.LDAPUser)
	setString(v, EnvLDAPPass, &cfg.LDAPPass)
	setString(v, EnvLDAPSearch, &cfg.LDAPSearch)
	setString(v, EnvTestMatch, &cfg.TestMatch)
	setString(v, EnvTestMatchSource, &cfg.TestMatchSource)
	setString(v, EnvFieldMapFile, &cfg.FieldMapFile)
	setString(v, EnvAuditDSN, &cfg.AuditDSN)
	setString(v, EnvLogLevel, &cfg.LogLevel)
	setString(v, EnvLogFormat, &cfg.LogFormat)

	var errs []error
	if v.IsSet(EnvPageSize) {
		cfg.CharthopPageSize, errs = parseSetting(v, EnvPageSize, cast.ToIntE, errs)
	}
	if v.IsSet(EnvTimeout) {
		timeout, err := time.ParseDuration(strings.TrimSpace(v.GetString(EnvTimeout)))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvTimeout, err))
		}
		cfg.CharthopTimeout = timeout
	}
	if v.IsSet(EnvLDAPPagedLimit) {
		cfg.LDAPPagedLimit, errs = parseSetting(v, EnvLDAPPagedLimit, cast.ToUint32E, errs)
	}
	if v.IsSet(EnvLDAPSizeLimit) {
		cfg.LDAPSizeLimit, errs = parseSetting(v, EnvLDAPSizeLimit, cast.ToIntE, errs)
	}
	if v.IsSet(EnvExcludeDisabled) {
		cfg.LDAPExcludeDisabled, errs = parseSetting(v, EnvExcludeDisabled, cast.ToBoolE, errs)
	}
	if v.IsSet(EnvFetchConcurrency) {
		cfg.FetchConcurrency, errs = parseSetting(v, EnvFetchConcurrency, cast.ToIntE, errs)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// parseSetting converts a raw setting, recording a failure against its key.
func parseSetting[T any](v *viper.Viper, key string, convert func(any) (T, error), errs []error) (T, []error) {
	value, err := convert(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", key, err))
	}
	return value, errs
}

func setString(v *viper.Viper, key string, target *string) {
	if value := strings.TrimSpace(v.GetString(key)); value != "" {
		*target = value
	}
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate reports every missing or inconsistent setting.
func (c *SyncConfiguration) Validate() error {
	var errs []error

	for _, required := range []struct{ key, value string }{
		{EnvLDAPURL, c.LDAPURL},
		{EnvLDAPUser, c.LDAPUser},
		{EnvLDAPPass, c.LDAPPass},
		{EnvLDAPSearch, c.LDAPSearch},
	} {
		if required.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", required.key))
		}
	}

	if len(c.OrgIDs) == 0 {
		errs = append(errs, fmt.Errorf("%s is required", EnvOrgID))
	}
	if len(c.Tokens) != len(c.OrgIDs) {
		errs = append(errs, fmt.Errorf("%s has %d entries but %s has %d", EnvToken, len(c.Tokens), EnvOrgID, len(c.OrgIDs)))
	}
	if c.CharthopPageSize < 1 {
		errs = append(errs, fmt.Errorf("%s must be positive", EnvPageSize))
	}
	if c.CharthopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", EnvTimeout))
	}
	if c.LDAPSizeLimit < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", EnvLDAPSizeLimit))
	}
	if c.FetchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1", EnvFetchConcurrency))
	}
	if c.TestMatchSource != "" && c.TestMatch == "" {
		errs = append(errs, fmt.Errorf("%s requires %s", EnvTestMatchSource, EnvTestMatch))
	}

	return errors.Join(errs...)
}

// Organizations pairs each org id with its token, in configuration order.
func (c *SyncConfiguration) Organizations() []Organization {
	orgs := make([]Organization, 0, len(c.OrgIDs))
	for i, id := range c.OrgIDs {
		org := Organization{ID: id}
		if i < len(c.Tokens) {
			org.Token = c.Tokens[i]
		}
		orgs = append(orgs, org)
	}
	return orgs
}

// NotifyToken is the token used for notifications: the first configured one.
func (c *SyncConfiguration) NotifyToken() string {
	if len(c.Tokens) == 0 {
		return ""
	}
	return c.Tokens[0]
}
