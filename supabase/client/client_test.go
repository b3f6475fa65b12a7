package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Config{URL: server.URL + "/", APIKey: "anon-key"})
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	testCases := []struct {
		name string
		cfg  Config
	}{
		{"missing url", Config{APIKey: "k"}},
		{"missing key", Config{URL: "https://example.supabase.co"}},
		{"relative url", Config{URL: "example.supabase.co", APIKey: "k"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Errorf("New(%+v) expected error", tc.cfg)
			}
		})
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c, err := New(Config{URL: "https://example.supabase.co/", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.supabase.co", c.BaseURL())
	assert.Equal(t, "public", c.schema)
}

func TestQueryBuilder_CountRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/profiles", r.URL.Path)
		assert.Equal(t, "*", r.URL.Query().Get("select"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "count=exact", r.Header.Get("Prefer"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		assert.Equal(t, "public", r.Header.Get("Accept-Profile"))
		assert.Equal(t, "req-1", r.Header.Get(RequestIDHeader))

		w.Header().Set("Content-Range", "0-0/42")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[{"id":"u1"}]`))
	})

	ctx := WithRequestID(context.Background(), "req-1")
	resp, err := c.From("profiles").Select("*").Limit(1).Count("exact").Execute(ctx)
	require.NoError(t, err)
	require.NoError(t, resp.Error())
	assert.Equal(t, int64(42), resp.Total())
}

func TestQueryBuilder_CountOnlyRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.True(t, q.Has("select"))
		assert.Empty(t, q.Get("select"))
		assert.Equal(t, "1", q.Get("limit"))
		assert.Equal(t, "count=exact", r.Header.Get("Prefer"))

		w.Header().Set("Content-Range", "0-0/7")
		_, _ = w.Write([]byte(`[{}]`))
	})

	resp, err := c.From("profiles").CountOnly("exact").Execute(context.Background())
	require.NoError(t, err)
	require.NoError(t, resp.Error())
	assert.Equal(t, int64(7), resp.Total())
	assert.Equal(t, `[{}]`, string(resp.Body))
}

func TestResponse_Total(t *testing.T) {
	testCases := []struct {
		header string
		want   int64
	}{
		{"0-0/42", 42},
		{"*/0", 0},
		{"0-9/*", -1},
		{"", -1},
		{"0-0/", -1},
	}

	for _, tc := range testCases {
		t.Run(tc.header, func(t *testing.T) {
			resp := &Response{Headers: http.Header{}}
			if tc.header != "" {
				resp.Headers.Set("Content-Range", tc.header)
			}
			if got := resp.Total(); got != tc.want {
				t.Errorf("Total() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestResponse_Error_RelationMissing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"42P01","details":null,"hint":null,"message":"relation \"public.themes\" does not exist"}`))
	})

	resp, err := c.From("themes").Select("*").Limit(1).Execute(context.Background())
	require.NoError(t, err)

	apiErr := resp.Error()
	require.Error(t, apiErr)
	assert.True(t, IsRelationMissing(apiErr))

	var typed *APIError
	require.ErrorAs(t, apiErr, &typed)
	assert.Equal(t, CodeUndefinedTable, typed.ErrorCode())
	assert.Equal(t, http.StatusNotFound, typed.StatusCode)
	assert.Empty(t, typed.Hint)
}

func TestDecodeAPIError(t *testing.T) {
	testCases := []struct {
		name        string
		status      int
		body        string
		wantCode    string
		wantMessage string
		missing     bool
	}{
		{"postgrest schema cache", 404, `{"code":"PGRST205","message":"Could not find the table 'public.themes' in the schema cache"}`, "PGRST205", "Could not find the table 'public.themes' in the schema cache", true},
		{"postgrest permission", 401, `{"code":"42501","message":"permission denied for table orders"}`, "42501", "permission denied for table orders", false},
		{"gotrue msg", 401, `{"code":401,"msg":"Invalid JWT"}`, "401", "Invalid JWT", false},
		{"gotrue oauth", 400, `{"error":"invalid_grant","error_description":"Refresh token not found"}`, "", "Refresh token not found", false},
		{"plain text", 502, "bad gateway", "", "bad gateway", false},
		{"empty", 503, "", "", "status 503 Service Unavailable", false},
		{"message only", 500, `{"message":"relation \"x\" does not exist"}`, "", `relation "x" does not exist`, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := decodeAPIError(tc.status, []byte(tc.body))
			assert.Equal(t, tc.wantCode, got.Code)
			assert.Equal(t, tc.wantMessage, got.Message)
			assert.Equal(t, tc.missing, got.RelationMissing())
		})
	}
}

func TestAuth_GetSession_Anonymous(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"version":"v2.150.0","name":"GoTrue"}`))
	})

	session, err := c.Auth().GetSession(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, session.Anonymous())
	assert.Nil(t, session.User)
}

func TestAuth_GetSession_HealthFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Auth().GetSession(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth health")
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	})
	s, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestAuth_GetSession_WithToken(t *testing.T) {
	token := signedToken(t, time.Now().Add(time.Hour))
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		assert.Equal(t, "Bearer "+token, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":"user-1","email":"maker@example.com","role":"authenticated"}`))
	})

	session, err := c.Auth().GetSession(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, session.Anonymous())
	require.NotNil(t, session.User)
	assert.Equal(t, "user-1", session.User.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, 2*time.Second)
}

func TestAuth_GetSession_ExpiredToken(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
	})

	_, err := c.Auth().GetSession(context.Background(), signedToken(t, time.Now().Add(-time.Minute)))
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Zero(t, calls, "expired token must not reach the network")
}

func TestAuth_GetSession_MalformedToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := c.Auth().GetSession(context.Background(), "not-a-jwt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse access token")
}

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))

	id := GenerateRequestID()
	assert.Len(t, id, 36)
	assert.NotEqual(t, id, GenerateRequestID())
	assert.Equal(t, id, RequestIDFromContext(WithRequestID(ctx, id)))
}
