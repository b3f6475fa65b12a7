package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
)

// ErrSessionExpired is returned when the configured access token is past its expiry.
var ErrSessionExpired = errors.New("session expired")

// Auth returns an auth client.
func (c *Client) Auth() *AuthClient {
	return &AuthClient{client: c}
}

// AuthClient handles GoTrue operations.
type AuthClient struct {
	client *Client
}

// User represents a Supabase user.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// Session describes the auth state a caller is operating under. An empty
// AccessToken means the anonymous key is in use.
type Session struct {
	AccessToken string
	ExpiresAt   time.Time
	User        *User
}

// Anonymous reports whether the session has no signed-in user.
func (s *Session) Anonymous() bool {
	return s.AccessToken == ""
}

// HealthInfo is the body of the GoTrue health endpoint.
type HealthInfo struct {
	Name    string
	Version string
}

// Health calls the auth service health endpoint.
func (a *AuthClient) Health(ctx context.Context) (*HealthInfo, error) {
	reqURL := fmt.Sprintf("%s/auth/v1/health", a.client.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	a.client.setHeaders(req)

	resp, err := a.client.do(req)
	if err != nil {
		return nil, err
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}

	parsed := gjson.ParseBytes(resp.Body)
	return &HealthInfo{
		Name:    parsed.Get("name").String(),
		Version: parsed.Get("version").String(),
	}, nil
}

// GetUser gets the user the access token belongs to.
func (a *AuthClient) GetUser(ctx context.Context, accessToken string) (*User, error) {
	reqURL := fmt.Sprintf("%s/auth/v1/user", a.client.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	a.client.setHeaders(req)

	resp, err := a.client.do(req)
	if err != nil {
		return nil, err
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}

	var user User
	if err := json.Unmarshal(resp.Body, &user); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &user, nil
}

// GetSession checks the auth plane. With an access token, its expiry is read
// locally and the user is fetched; without one, the health endpoint is used.
func (a *AuthClient) GetSession(ctx context.Context, accessToken string) (*Session, error) {
	if accessToken == "" {
		if _, err := a.Health(ctx); err != nil {
			return nil, fmt.Errorf("auth health: %w", err)
		}
		return &Session{}, nil
	}

	expiresAt, err := tokenExpiry(accessToken)
	if err != nil {
		return nil, err
	}
	if !expiresAt.IsZero() && time.Now().After(expiresAt) {
		return nil, fmt.Errorf("%w at %s", ErrSessionExpired, expiresAt.Format(time.RFC3339))
	}

	user, err := a.GetUser(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("auth user: %w", err)
	}

	return &Session{
		AccessToken: accessToken,
		ExpiresAt:   expiresAt,
		User:        user,
	}, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the auth
// service verifies it on GetUser.
func tokenExpiry(accessToken string) (time.Time, error) {
	token, _, err := jwt.NewParser().ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("parse access token: %w", err)
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("read token expiry: %w", err)
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}
