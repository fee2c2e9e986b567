package charthop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"f0oster/adsync/fields"
	"f0oster/adsync/records"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL  = "https://api.charthop.com"
	DefaultTimeout  = 60 * time.Second
	DefaultPageSize = 1000
	DefaultMaxPages = 10000

	filledJobsQuery = "open:filled"
	pathNotify      = "/v1/app/notify"
)

var (
	ErrTooManyPages = errors.New("too many pages")
	ErrNoToken      = errors.New("no notification token configured")
)

type ClientConfig struct {
	BaseURL  string
	Timeout  time.Duration
	PageSize int
	MaxPages int

	// NotifyToken authenticates notification requests
	NotifyToken string

	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client reads filled jobs from ChartHop and sends notifications.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	catalog    *fields.Catalog
	log        zerolog.Logger
}

type jobPage struct {
	Data []map[string]interface{} `json:"data"`
	Next string                   `json:"next,omitempty"`
}

type notifyRequest struct {
	EmailSubject     string `json:"emailSubject"`
	EmailContentHTML string `json:"emailContentHtml"`
}

func NewClient(config *ClientConfig, catalog *fields.Catalog) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	if config.MaxPages <= 0 {
		config.MaxPages = DefaultMaxPages
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		catalog:    catalog,
		log:        config.Logger,
	}
}

// FetchFilledJobs returns every filled job in the organization, following
// the next cursor until the final page.
func (c *Client) FetchFilledJobs(ctx context.Context, orgID, token string) ([]records.SourceRecord, error) {
	var (
		all    []records.SourceRecord
		cursor string
	)

	managerKey := ""
	if m, ok := c.catalog.ManagerMapping(); ok {
		managerKey = m.SourceKey
	}

	for page := 1; ; page++ {
		if page > c.config.MaxPages {
			return nil, fmt.Errorf("org %s: %w (limit %d)", orgID, ErrTooManyPages, c.config.MaxPages)
		}

		var resp jobPage
		if err := c.do(ctx, http.MethodGet, c.jobsURL(orgID, cursor), token, nil, &resp); err != nil {
			return nil, fmt.Errorf("fetch jobs for org %s (page %d): %w", orgID, page, err)
		}

		for _, raw := range resp.Data {
			rec, ok := c.toRecord(orgID, managerKey, raw)
			if !ok {
				c.log.Warn().Str("org", orgID).Int("page", page).Msg("Skipping job without an id")
				continue
			}
			all = append(all, rec)
		}

		c.log.Debug().
			Str("org", orgID).
			Int("page", page).
			Int("page_records", len(resp.Data)).
			Int("total_records", len(all)).
			Msg("Fetched job page")

		if resp.Next == "" {
			break
		}
		cursor = resp.Next
	}

	return all, nil
}

// Notify sends one notification email through ChartHop. It is not retried.
func (c *Client) Notify(ctx context.Context, subject, bodyHTML string) error {
	if c.config.NotifyToken == "" {
		return ErrNoToken
	}
	body := notifyRequest{EmailSubject: subject, EmailContentHTML: bodyHTML}
	if err := c.do(ctx, http.MethodPost, c.config.BaseURL+pathNotify, c.config.NotifyToken, body, nil); err != nil {
		return fmt.Errorf("send notification %q: %w", subject, err)
	}
	return nil
}

func (c *Client) jobsURL(orgID, cursor string) string {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", c.config.PageSize))
	q.Set("format", "minimal")
	q.Set("q", filledJobsQuery)
	q.Set("fields", strings.Join(c.catalog.SourceFields(), ","))
	if cursor != "" {
		q.Set("from", cursor)
	}
	return fmt.Sprintf("%s/v2/org/%s/job?%s", c.config.BaseURL, url.PathEscape(orgID), q.Encode())
}

// toRecord converts one job. It reports false when the job has no usable id.
func (c *Client) toRecord(orgID, managerKey string, raw map[string]interface{}) (records.SourceRecord, bool) {
	rec := records.SourceRecord{
		OrgID:  orgID,
		Fields: make(map[string]string, len(raw)),
	}

	rec.ID, _ = records.ScalarString(raw[fields.SourceIDField])
	if rec.ID == "" {
		rec.ID, _ = records.ScalarString(raw["id"])
	}
	if rec.ID == "" {
		return rec, false
	}

	for key, value := range raw {
		if key == fields.SourceIDField || key == "id" {
			continue
		}
		s, ok := records.ScalarString(value)
		if !ok {
			c.log.Warn().Str("org", orgID).Str("job", rec.ID).Str("field", key).Msg("Ignoring non-scalar job field")
			continue
		}
		if key == managerKey {
			rec.ManagerSourceID = s
		}
		if s != "" {
			rec.Fields[key] = s
		}
	}
	return rec, true
}

func (c *Client) do(ctx context.Context, method, target, token string, body, respModel interface{}) (err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			c.log.Error().Err(err).Str("method", method).Str("url", redact(target)).Msg("ChartHop request failed")
			return
		}
		c.log.Trace().Str("method", method).Str("url", redact(target)).Dur("duration", time.Since(start)).Msg("ChartHop request complete")
	}()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	if respModel == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(respModel); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status code %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func redact(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	u.RawQuery = ""
	return u.String()
}
