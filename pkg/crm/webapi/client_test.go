package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp-forge/dtmigrate/pkg/crm"
)

const apiPrefix = "/api/data/v9.2/"

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewWithHTTPClient("test", &Config{URL: srv.URL}, srv.Client(), hclog.NewNullLogger())
	require.NoError(t, err)
	c.initialBackoff = time.Millisecond
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestConfigDefaultsAndValidation(t *testing.T) {
	t.Run("requires url", func(t *testing.T) {
		cfg := &Config{}
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects unsupported scheme", func(t *testing.T) {
		cfg := &Config{URL: "ftp://contoso"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("derives token url and base url", func(t *testing.T) {
		cfg := &Config{
			URL:          "https://contoso.crm.dynamics.com/",
			TenantID:     "tenant",
			ClientID:     "client",
			ClientSecret: "secret",
		}
		require.NoError(t, cfg.Validate())
		cfg.SetDefaults()

		assert.Equal(t, "https://login.microsoftonline.com/tenant/oauth2/v2.0/token", cfg.TokenURL)
		assert.Equal(t, "https://contoso.crm.dynamics.com/api/data/v9.2/", cfg.BaseURL())
		assert.Equal(t, "https://contoso.crm.dynamics.com/.default", cfg.Scope())
		assert.Equal(t, 120, cfg.TimeoutSeconds)
		assert.Equal(t, 3, cfg.MaxThrottleRetries)
		assert.True(t, cfg.HasCredentials())
	})
}

func TestEntitySet(t *testing.T) {
	cfg := &Config{EntitySets: map[string]string{"person": "people"}}

	assert.Equal(t, "documenttemplates", cfg.EntitySet("documenttemplate"))
	assert.Equal(t, "opportunities", cfg.EntitySet("opportunity"))
	assert.Equal(t, "addresses", cfg.EntitySet("address"))
	assert.Equal(t, "faxes", cfg.EntitySet("fax"))
	assert.Equal(t, "journeys", cfg.EntitySet("journey"))
	assert.Equal(t, "people", cfg.EntitySet("person"))
}

func TestQueryBuildsFilterAndFollowsPages(t *testing.T) {
	id1, id2 := uuid.New(), uuid.New()
	var calls atomic.Int32

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, apiPrefix+"documenttemplates", r.URL.Path)

		if r.URL.Query().Get("page") == "2" {
			writeJSON(t, w, http.StatusOK, map[string]any{
				"value": []map[string]any{{"documenttemplateid": id2.String(), "name": "Quote", "documenttype": 2}},
			})
			return
		}

		assert.Equal(t, "name,documenttype", r.URL.Query().Get("$select"))
		assert.Equal(t, "status eq false and documenttype eq 2 and createdby/fullname ne 'SYSTEM'", r.URL.Query().Get("$filter"))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"value": []map[string]any{{
				"@odata.etag":        `W/"1"`,
				"documenttemplateid": id1.String(),
				"name":               "Invoice",
				"documenttype":       2,
			}},
			"@odata.nextLink": "http://" + r.Host + apiPrefix + "documenttemplates?page=2",
		})
	}))

	q := crm.Query{
		Entity:  "documenttemplate",
		Columns: []string{"name", "documenttype"},
		Conditions: []crm.Condition{
			crm.Equal("status", false),
			crm.Equal("documenttype", 2),
			crm.NotEqual("createdbyname", "SYSTEM"),
		},
	}
	records, err := c.Query(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int32(2), calls.Load())

	assert.Equal(t, id1, records[0].ID)
	assert.NotContains(t, records[0].Attributes, "@odata.etag")
	name, _ := records[0].String("name")
	assert.Equal(t, "Invoice", name)
	docType, err := records[0].Int("documenttype")
	require.NoError(t, err)
	assert.Equal(t, 2, docType)
	assert.Equal(t, id2, records[1].ID)
}

func TestCreateParsesEntityID(t *testing.T) {
	id := uuid.New()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, apiPrefix+"documenttemplates", r.URL.Path)
		assert.Equal(t, "application/json; charset=utf-8", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Invoice", body["name"])

		w.Header().Set("OData-EntityId", fmt.Sprintf("http://%s%sdocumenttemplates(%s)", r.Host, apiPrefix, id))
		w.WriteHeader(http.StatusNoContent)
	}))

	got, err := c.Create(context.Background(), "documenttemplate", crm.Attributes{"name": "Invoice"})
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestWritesSendEntityLogicalNames(t *testing.T) {
	id := uuid.New()
	var lookups atomic.Int32
	bodies := make(chan map[string]any, 2)

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == apiPrefix+"EntityDefinitions(LogicalName='new_widget')":
			writeJSON(t, w, http.StatusOK, map[string]any{"ObjectTypeCode": 10010})
		case r.URL.Path == apiPrefix+"EntityDefinitions":
			lookups.Add(1)
			assert.Equal(t, "LogicalName", r.URL.Query().Get("$select"))
			if r.URL.Query().Get("$filter") == "ObjectTypeCode eq 1084" {
				writeJSON(t, w, http.StatusOK, map[string]any{"value": []map[string]any{{"LogicalName": "quote"}}})
				return
			}
			writeJSON(t, w, http.StatusOK, map[string]any{"value": []map[string]any{}})
		default:
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			bodies <- body
			w.Header().Set("OData-EntityId", fmt.Sprintf("http://%s%sdocumenttemplates(%s)", r.Host, apiPrefix, id))
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	ctx := context.Background()

	_, err := c.EntityTypeCode(ctx, "new_widget")
	require.NoError(t, err)

	attrs := crm.Attributes{"name": "Invoice", "associatedentitytypecode": 10010}
	_, err = c.Create(ctx, "documenttemplate", attrs)
	require.NoError(t, err)
	assert.Equal(t, "new_widget", (<-bodies)["associatedentitytypecode"])
	assert.Equal(t, 10010, attrs["associatedentitytypecode"], "caller attributes are not modified")
	assert.Zero(t, lookups.Load(), "known codes need no lookup")

	require.NoError(t, c.Update(ctx, "documenttemplate", id, crm.Attributes{"associatedentitytypecode": 1084}))
	assert.Equal(t, "quote", (<-bodies)["associatedentitytypecode"])
	assert.Equal(t, int32(1), lookups.Load())

	_, err = c.Create(ctx, "documenttemplate", crm.Attributes{"associatedentitytypecode": 99999})
	require.Error(t, err)
	assert.True(t, errors.Is(err, crm.ErrMetadataNotFound))
}

func TestCreateWithoutEntityIDHeaderFails(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	_, err := c.Create(context.Background(), "documenttemplate", crm.Attributes{"name": "Invoice"})
	require.Error(t, err)
	assert.True(t, crm.IsFault(err))
}

func TestUpdateSendsPatchWithIfMatch(t *testing.T) {
	id := uuid.New()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, fmt.Sprintf("%sdocumenttemplates(%s)", apiPrefix, id), r.URL.Path)
		assert.Equal(t, "*", r.Header.Get("If-Match"))
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, c.Update(context.Background(), "documenttemplate", id, crm.Attributes{"content": "AAAA"}))
}

func TestRemoteFaultPreservesDiagnostics(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusForbidden, map[string]any{
			"error": map[string]any{
				"code":    "0x80040220",
				"message": "Principal user is missing prvCreateDocumentTemplate privilege",
				"innererror": map[string]any{
					"message":    "SecLib::AccessCheckEx failed",
					"stacktrace": "at Microsoft.Crm.Extensibility.VerifyAccess()",
				},
			},
		})
	}))

	_, err := c.Create(context.Background(), "documenttemplate", crm.Attributes{"name": "Invoice"})
	require.Error(t, err)

	var fault *crm.Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, http.StatusForbidden, fault.StatusCode)
	assert.Equal(t, "0x80040220", fault.Code)
	assert.Equal(t, "create documenttemplate", fault.Op)
	assert.Contains(t, fault.TraceText, "VerifyAccess")
	assert.EqualError(t, fault.Err, "SecLib::AccessCheckEx failed")
}

func TestNonJSONFaultUsesBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream unavailable")
	}))

	_, err := c.WhoAmI(context.Background())
	var fault *crm.Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, "upstream unavailable", fault.Message)
}

func TestEntityTypeCode(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ObjectTypeCode", r.URL.Query().Get("$select"))
		switch r.URL.Path {
		case apiPrefix + "EntityDefinitions(LogicalName='new_widget')":
			writeJSON(t, w, http.StatusOK, map[string]any{"ObjectTypeCode": 10004})
		default:
			writeJSON(t, w, http.StatusNotFound, map[string]any{
				"error": map[string]any{"code": "0x80040217", "message": "Could not find entity"},
			})
		}
	}))

	code, err := c.EntityTypeCode(context.Background(), "new_widget")
	require.NoError(t, err)
	assert.Equal(t, 10004, code)

	_, err = c.EntityTypeCode(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, crm.ErrMetadataNotFound))
}

func TestWhoAmI(t *testing.T) {
	userID := uuid.New()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, apiPrefix+"WhoAmI", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]any{"UserId": userID.String()})
	}))

	got, err := c.WhoAmI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, userID, got)
	assert.Equal(t, "test", c.Name())
}

func TestThrottledRequestsAreRetried(t *testing.T) {
	var calls atomic.Int32
	userID := uuid.New()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Retry-After", "0")
			writeJSON(t, w, http.StatusTooManyRequests, map[string]any{
				"error": map[string]any{"code": "0x80072322", "message": "Number of requests exceeded the limit"},
			})
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{"UserId": userID.String()})
	}))

	got, err := c.WhoAmI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, userID, got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestThrottleRetriesAreBounded(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(t, w, http.StatusTooManyRequests, map[string]any{
			"error": map[string]any{"code": "0x80072322", "message": "Number of requests exceeded the limit"},
		})
	}))
	c.cfg.MaxThrottleRetries = 2

	_, err := c.WhoAmI(context.Background())
	var fault *crm.Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, http.StatusTooManyRequests, fault.StatusCode)
	assert.Equal(t, int32(3), calls.Load(), "one attempt plus two retries")
}

func TestOtherErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.WhoAmI(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))

	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	assert.Greater(t, parseRetryAfter(future), 50*time.Minute)
}

func TestBuildFilter(t *testing.T) {
	filter := buildFilter([]crm.Condition{
		crm.Equal("name", "Smith's invoice"),
		crm.Equal("status", false),
	}, nil)
	assert.Equal(t, "name eq 'Smith''s invoice' and status eq false", filter)
	assert.Empty(t, buildFilter(nil, nil))

	filter = buildFilter([]crm.Condition{crm.NotEqual("createdbyname", "SYSTEM")},
		map[string]string{"createdbyname": "createdby/fullname"})
	assert.Equal(t, "createdby/fullname ne 'SYSTEM'", filter)
}
