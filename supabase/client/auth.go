package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Auth returns an auth client.
func (c *Client) Auth() *AuthClient {
	return &AuthClient{client: c}
}

// AuthClient wraps the GoTrue endpoints under /auth/v1.
type AuthClient struct {
	client *Client
}

// AuthResponse is the response from token issuing operations.
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

// User represents a Supabase user.
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	Role             string         `json:"role"`
	EmailConfirmedAt string         `json:"email_confirmed_at,omitempty"`
	CreatedAt        string         `json:"created_at,omitempty"`
	AppMetadata      map[string]any `json:"app_metadata,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
}

// SignUp creates a new user. When email confirmation is enabled the response
// carries the user but no session.
func (a *AuthClient) SignUp(ctx context.Context, email, password string) (*AuthResponse, error) {
	body := map[string]string{"email": email, "password": password}
	raw, err := a.post(ctx, "/signup", "", body)
	if err != nil {
		return nil, err
	}

	var resp AuthResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	// Unconfirmed signups return the bare user object.
	if resp.User == nil {
		var user User
		if err := json.Unmarshal(raw, &user); err == nil && user.ID != "" {
			resp.User = &user
		}
	}
	return &resp, nil
}

// SignIn exchanges email and password for a session.
func (a *AuthClient) SignIn(ctx context.Context, email, password string) (*AuthResponse, error) {
	return a.token(ctx, "password", map[string]string{"email": email, "password": password})
}

// Refresh exchanges a refresh token for a new session.
func (a *AuthClient) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	return a.token(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

// GetUser resolves the user owning accessToken.
func (a *AuthClient) GetUser(ctx context.Context, accessToken string) (*User, error) {
	req, err := a.request(ctx, http.MethodGet, "/user", accessToken, nil)
	if err != nil {
		return nil, err
	}
	var user User
	if err := a.client.doJSON(req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdatePassword sets a new password for the user owning accessToken. The
// recovery link's token is a regular access token.
func (a *AuthClient) UpdatePassword(ctx context.Context, accessToken, password string) (*User, error) {
	req, err := a.request(ctx, http.MethodPut, "/user", accessToken, map[string]string{"password": password})
	if err != nil {
		return nil, err
	}
	var user User
	if err := a.client.doJSON(req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SignOut revokes the session behind accessToken.
func (a *AuthClient) SignOut(ctx context.Context, accessToken string) error {
	_, err := a.post(ctx, "/logout", accessToken, nil)
	return err
}

// ResetPasswordForEmail sends a recovery email linking to redirectTo.
func (a *AuthClient) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	path := "/recover"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	_, err := a.post(ctx, path, "", map[string]string{"email": email})
	return err
}

// AuthorizeURL returns the URL a browser follows to start an OAuth login.
func (a *AuthClient) AuthorizeURL(provider, redirectTo string) string {
	q := url.Values{}
	q.Set("provider", provider)
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return fmt.Sprintf("%s/auth/v1/authorize?%s", a.client.baseURL, q.Encode())
}

func (a *AuthClient) token(ctx context.Context, grant string, body any) (*AuthResponse, error) {
	raw, err := a.post(ctx, "/token?grant_type="+grant, "", body)
	if err != nil {
		return nil, err
	}
	var resp AuthResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

func (a *AuthClient) post(ctx context.Context, path, accessToken string, body any) ([]byte, error) {
	req, err := a.request(ctx, http.MethodPost, path, accessToken, body)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.do(req)
	if err != nil {
		return nil, err
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (a *AuthClient) request(ctx context.Context, method, path, accessToken string, body any) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	reqURL := a.client.baseURL + "/auth/v1" + path
	var (
		req *http.Request
		err error
	)
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, reqURL, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, reqURL, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	a.client.setHeaders(req)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
