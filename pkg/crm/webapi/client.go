package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/hashicorp-forge/dtmigrate/pkg/crm"
)

// Compile-time check that Client implements crm.Store.
var _ crm.Store = (*Client)(nil)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 1 << 20

var entityIDPattern = regexp.MustCompile(`\(([0-9a-fA-F-]{36})\)\s*$`)

// Client is a crm.Store backed by a Web API endpoint.
type Client struct {
	name       string
	cfg        *Config
	baseURL    *url.URL
	httpClient *http.Client
	logger     hclog.Logger

	// initialBackoff is the first throttling delay when the server sends no
	// Retry-After header.
	initialBackoff time.Duration

	mu           sync.Mutex
	logicalNames map[int]string // type code -> logical name
}

// New creates a Web API client. When the configuration carries client
// credentials, requests are authorized with OAuth2 bearer tokens obtained
// from the token endpoint.
func New(name string, cfg *Config, logger hclog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid web api configuration: %w", err)
	}
	cfg.SetDefaults()

	base := &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	httpClient := base
	if cfg.HasCredentials() {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       []string{cfg.Scope()},
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		httpClient = cc.Client(ctx)
		httpClient.Timeout = base.Timeout
	}

	return NewWithHTTPClient(name, cfg, httpClient, logger)
}

// NewWithHTTPClient creates a Web API client that sends requests through the
// given HTTP client as-is. The caller is responsible for authorization.
func NewWithHTTPClient(name string, cfg *Config, httpClient *http.Client, logger hclog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid web api configuration: %w", err)
	}
	cfg.SetDefaults()

	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	}

	baseURL, err := url.Parse(cfg.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("invalid web api base url: %w", err)
	}

	return &Client{
		name:           name,
		cfg:            cfg,
		baseURL:        baseURL,
		httpClient:     httpClient,
		logger:         logger.Named("webapi").With("store", name),
		initialBackoff: time.Second,
		logicalNames:   make(map[int]string),
	}, nil
}

// Name returns the store name.
func (c *Client) Name() string {
	return c.name
}

// Query implements crm.Store. Result pages are followed until exhausted.
func (c *Client) Query(ctx context.Context, q crm.Query) ([]crm.Record, error) {
	op := fmt.Sprintf("query %s", q.Entity)
	next := c.collectionURL(q)
	idAttr := q.Entity + "id"

	var records []crm.Record
	for next != "" {
		var page struct {
			Value    []map[string]any `json:"value"`
			NextLink string           `json:"@odata.nextLink"`
		}
		if err := c.do(ctx, op, http.MethodGet, next, nil, nil, &page); err != nil {
			return nil, err
		}
		for _, row := range page.Value {
			rec, err := toRecord(row, idAttr)
			if err != nil {
				return nil, &crm.Fault{Op: op, Message: "malformed record in response", Err: err}
			}
			records = append(records, rec)
		}
		next = page.NextLink
	}

	c.logger.Debug("query completed", "query", q.String(), "records", len(records))
	return records, nil
}

// Create implements crm.Store.
func (c *Client) Create(ctx context.Context, entity string, attrs crm.Attributes) (uuid.UUID, error) {
	op := fmt.Sprintf("create %s", entity)
	body, err := c.outgoing(ctx, attrs)
	if err != nil {
		return uuid.Nil, err
	}
	var header http.Header
	target := c.resolve(c.cfg.EntitySet(entity))
	if err := c.do(ctx, op, http.MethodPost, target, nil, body, &header); err != nil {
		return uuid.Nil, err
	}

	entityID := header.Get("OData-EntityId")
	m := entityIDPattern.FindStringSubmatch(entityID)
	if m == nil {
		return uuid.Nil, &crm.Fault{Op: op, Message: fmt.Sprintf("response has no usable OData-EntityId header (%q)", entityID)}
	}
	id, err := uuid.Parse(m[1])
	if err != nil {
		return uuid.Nil, &crm.Fault{Op: op, Message: "invalid id in OData-EntityId header", Err: err}
	}
	return id, nil
}

// Update implements crm.Store. The request carries If-Match: * so a missing
// record fails instead of being created.
func (c *Client) Update(ctx context.Context, entity string, id uuid.UUID, attrs crm.Attributes) error {
	op := fmt.Sprintf("update %s", entity)
	body, err := c.outgoing(ctx, attrs)
	if err != nil {
		return err
	}
	target := c.resolve(fmt.Sprintf("%s(%s)", c.cfg.EntitySet(entity), id))
	headers := http.Header{"If-Match": []string{"*"}}
	return c.do(ctx, op, http.MethodPatch, target, headers, body, nil)
}

// outgoing returns attrs with numeric codes in entity name attributes
// replaced by logical names. attrs is not modified.
func (c *Client) outgoing(ctx context.Context, attrs crm.Attributes) (crm.Attributes, error) {
	var out crm.Attributes
	for _, name := range c.cfg.EntityNameAttributes {
		code, ok := attrs[name].(int)
		if !ok {
			continue
		}
		logicalName, err := c.logicalName(ctx, code)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = maps.Clone(attrs)
		}
		out[name] = logicalName
	}
	if out == nil {
		return attrs, nil
	}
	return out, nil
}

// logicalName returns the logical name of the entity with the given type
// code. Codes returned by EntityTypeCode are answered without a request.
func (c *Client) logicalName(ctx context.Context, code int) (string, error) {
	c.mu.Lock()
	name, ok := c.logicalNames[code]
	c.mu.Unlock()
	if ok {
		return name, nil
	}

	op := fmt.Sprintf("retrieve entity with type code %d", code)
	target := c.resolve("EntityDefinitions") + "?$select=LogicalName&$filter=" +
		strings.ReplaceAll(url.QueryEscape(fmt.Sprintf("ObjectTypeCode eq %d", code)), "+", "%20")

	var page struct {
		Value []struct {
			LogicalName string `json:"LogicalName"`
		} `json:"value"`
	}
	if err := c.do(ctx, op, http.MethodGet, target, nil, nil, &page); err != nil {
		return "", err
	}
	if len(page.Value) == 0 || page.Value[0].LogicalName == "" {
		return "", &crm.NotFoundError{Entity: strconv.Itoa(code), Store: c.name}
	}

	name = page.Value[0].LogicalName
	c.remember(code, name)
	return name, nil
}

func (c *Client) remember(code int, logicalName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logicalNames[code] = logicalName
}

// EntityTypeCode implements crm.Store.
func (c *Client) EntityTypeCode(ctx context.Context, logicalName string) (int, error) {
	op := fmt.Sprintf("retrieve entity %s", logicalName)
	target := c.resolve(fmt.Sprintf("EntityDefinitions(LogicalName=%s)", crm.FormatValue(logicalName))) +
		"?$select=ObjectTypeCode"

	var meta struct {
		ObjectTypeCode *int `json:"ObjectTypeCode"`
	}
	err := c.do(ctx, op, http.MethodGet, target, nil, nil, &meta)
	var fault *crm.Fault
	if errors.As(err, &fault) && fault.StatusCode == http.StatusNotFound {
		return 0, &crm.NotFoundError{Entity: logicalName, Store: c.name}
	}
	if err != nil {
		return 0, err
	}
	if meta.ObjectTypeCode == nil {
		return 0, &crm.NotFoundError{Entity: logicalName, Store: c.name}
	}
	c.remember(*meta.ObjectTypeCode, logicalName)
	return *meta.ObjectTypeCode, nil
}

// WhoAmI implements crm.Store.
func (c *Client) WhoAmI(ctx context.Context) (uuid.UUID, error) {
	var resp struct {
		UserID uuid.UUID `json:"UserId"`
	}
	if err := c.do(ctx, "who am i", http.MethodGet, c.resolve("WhoAmI"), nil, nil, &resp); err != nil {
		return uuid.Nil, err
	}
	return resp.UserID, nil
}

func (c *Client) resolve(path string) string {
	return c.baseURL.String() + path
}

func (c *Client) collectionURL(q crm.Query) string {
	params := make([]string, 0, 2)
	if len(q.Columns) > 0 {
		params = append(params, "$select="+url.QueryEscape(strings.Join(q.Columns, ",")))
	}
	if filter := buildFilter(q.Conditions, c.cfg.FilterPaths); filter != "" {
		params = append(params, "$filter="+strings.ReplaceAll(url.QueryEscape(filter), "+", "%20"))
	}
	target := c.resolve(c.cfg.EntitySet(q.Entity))
	if len(params) > 0 {
		target += "?" + strings.Join(params, "&")
	}
	return target
}

// buildFilter renders conds as an OData $filter expression. Attributes found
// in paths are replaced by the mapped property path.
func buildFilter(conds []crm.Condition, paths map[string]string) string {
	parts := make([]string, 0, len(conds))
	for _, cond := range conds {
		attr := cond.Attribute
		if p, ok := paths[attr]; ok {
			attr = p
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", attr, cond.Operator, crm.FormatValue(cond.Value)))
	}
	return strings.Join(parts, " and ")
}

// do sends one request, retrying throttled responses. out may be a pointer to
// a struct (JSON body is decoded into it) or a *http.Header (response
// headers are copied into it).
func (c *Client) do(ctx context.Context, op, method, target string, headers http.Header, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.initialBackoff
	expo.Reset()
	throttle := &retryAfterBackOff{next: expo}
	retries := c.cfg.MaxThrottleRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(throttle, uint64(retries)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%s: failed to build request: %w", op, err))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("OData-MaxVersion", "4.0")
		req.Header.Set("OData-Version", "4.0")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json; charset=utf-8")
		}
		for k, v := range headers {
			req.Header[k] = v
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return backoff.Permanent(&crm.Fault{Op: op, Message: "request failed", Err: err})
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			throttle.retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			c.logger.Warn("request throttled", "op", op, "attempt", attempt, "retry_after", throttle.retryAfter)
			return decodeFault(op, resp)
		}
		if resp.StatusCode >= 300 {
			return backoff.Permanent(decodeFault(op, resp))
		}

		switch o := out.(type) {
		case nil:
			_, _ = io.Copy(io.Discard, resp.Body)
		case *http.Header:
			*o = resp.Header.Clone()
		default:
			dec := json.NewDecoder(resp.Body)
			dec.UseNumber()
			if err := dec.Decode(out); err != nil {
				return backoff.Permanent(&crm.Fault{Op: op, StatusCode: resp.StatusCode, Message: "failed to decode response", Err: err})
			}
		}
		return nil
	}

	err := backoff.Retry(operation, policy)
	if err != nil && ctx.Err() != nil && !crm.IsFault(err) {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	return err
}

// retryAfterBackOff prefers the server's Retry-After hint over the wrapped
// exponential schedule.
type retryAfterBackOff struct {
	next       backoff.BackOff
	retryAfter time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	d := b.next.NextBackOff()
	if b.retryAfter > 0 {
		d = b.retryAfter
		b.retryAfter = 0
	}
	return d
}

func (b *retryAfterBackOff) Reset() {
	b.retryAfter = 0
	b.next.Reset()
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func decodeFault(op string, resp *http.Response) *crm.Fault {
	fault := &crm.Fault{Op: op, StatusCode: resp.StatusCode}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Error struct {
			Code       string `json:"code"`
			Message    string `json:"message"`
			InnerError *struct {
				Message    string `json:"message"`
				Type       string `json:"type"`
				StackTrace string `json:"stacktrace"`
			} `json:"innererror"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Error.Message == "" {
		fault.Message = strings.TrimSpace(string(raw))
		if fault.Message == "" {
			fault.Message = http.StatusText(resp.StatusCode)
		}
		return fault
	}

	fault.Code = body.Error.Code
	fault.Message = body.Error.Message
	if inner := body.Error.InnerError; inner != nil {
		fault.TraceText = inner.StackTrace
		if inner.Message != "" && inner.Message != body.Error.Message {
			fault.Err = errors.New(inner.Message)
		}
	}
	return fault
}

func toRecord(row map[string]any, idAttr string) (crm.Record, error) {
	rec := crm.Record{Attributes: make(crm.Attributes, len(row))}
	for k, v := range row {
		if strings.HasPrefix(k, "@odata.") || strings.Contains(k, "@OData.") || strings.Contains(k, "@Microsoft.") {
			continue
		}
		rec.Attributes[k] = v
	}
	if raw, ok := row[idAttr].(string); ok && raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return crm.Record{}, fmt.Errorf("invalid %s %q: %w", idAttr, raw, err)
		}
		rec.ID = id
	}
	return rec, nil
}
