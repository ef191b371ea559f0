package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the remote connection service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// RegisterRequest is the payload of a site registration.
type RegisterRequest struct {
	SiteURL  string `json:"site_url"`
	HomeURL  string `json:"home_url"`
	AdminURL string `json:"admin_url"`
	Secret1  string `json:"secret_1"`
	Secret2  string `json:"secret_2"`
}

// RegisterResponse is returned by a successful registration.
type RegisterResponse struct {
	JetpackID     int    `json:"jetpack_id"`
	JetpackSecret string `json:"jetpack_secret"`
}

// TokenRequest exchanges an authorization code for a user token.
type TokenRequest struct {
	Code        string `json:"code"`
	ClientID    int    `json:"client_id"`
	RedirectURI string `json:"redirect_uri"`
	State       string `json:"state"`
}

// TokenResponse carries a user token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
}

type deregisterRequest struct {
	JetpackID int `json:"jetpack_id"`
}

type unlinkUserRequest struct {
	JetpackID int `json:"jetpack_id"`
	UserID    int `json:"user_id"`
}

// Register registers a site.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
	var resp RegisterResponse
	err := c.post(ctx, "/register", "", req, &resp)
	return resp, err
}

// Deregister removes the registration of a site.
func (c *Client) Deregister(ctx context.Context, blogToken string, siteID int) error {
	return c.post(ctx, "/deregister", blogToken, deregisterRequest{JetpackID: siteID}, nil)
}

// UnlinkUser removes the link between a site user and the remote service.
func (c *Client) UnlinkUser(ctx context.Context, blogToken string, siteID, userID int) error {
	return c.post(ctx, "/unlink-user", blogToken, unlinkUserRequest{JetpackID: siteID, UserID: userID}, nil)
}

// Token exchanges an authorization code for a user token.
func (c *Client) Token(ctx context.Context, blogToken string, req TokenRequest) (TokenResponse, error) {
	var resp TokenResponse
	err := c.post(ctx, "/token", blogToken, req, &resp)
	return resp, err
}

// AuthorizeURL returns the URL of the authorization page with query.
func (c *Client) AuthorizeURL(query url.Values) string {
	return c.baseURL + "/authorize?" + query.Encode()
}

func (c *Client) post(ctx context.Context, path, bearer string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// StatusError is returned when the remote service answers with a non 2xx status.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Path, e.StatusCode, e.Body)
}
