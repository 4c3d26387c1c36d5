package trakt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
)

// TokenStore defines the interface for storing and retrieving tokens
type TokenStore interface {
	GetToken() (*Token, error)
	SaveToken(token *Token) error
}

// Token represents a Trakt authentication token
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// FileTokenStore implements TokenStore using a JSON file
type FileTokenStore struct {
	filepath string
}

// NewFileTokenStore creates a new file-based token store
func NewFileTokenStore(filepath string) (*FileTokenStore, error) {
	return &FileTokenStore{filepath: filepath}, nil
}

// GetToken retrieves the token from the file
func (s *FileTokenStore) GetToken() (*Token, error) {
	data, err := os.ReadFile(s.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("token file not found")
		}
		return nil, err
	}

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, err
	}

	return &token, nil
}

// SaveToken saves the token to the file
func (s *FileTokenStore) SaveToken(token *Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.filepath, data, 0600)
}

// DeviceCodeResponse represents the response from device code request
type DeviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// TokenResponse represents the response from token request
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// GetToken retrieves the current token from the token store
func (c *Client) GetToken() (*Token, error) {
	return c.tokenStore.GetToken()
}

// IsAuthenticated reports whether a token is stored
func (c *Client) IsAuthenticated() bool {
	token, err := c.tokenStore.GetToken()
	return err == nil && token != nil && token.AccessToken != ""
}

var errAuthorizationPending = errors.New("authorization pending")

// Authenticate performs device authentication flow
func (c *Client) Authenticate(ctx context.Context) error {
	// Step 1: Request device code
	deviceCodeReq := map[string]string{
		"client_id": c.clientID,
	}

	var deviceResp DeviceCodeResponse
	if err := c.do(ctx, http.MethodPost, "/oauth/device/code", deviceCodeReq, &deviceResp, false); err != nil {
		return fmt.Errorf("failed to get device code: %w", err)
	}

	// Step 2: Display user code and URL
	c.logger.Infof("Please visit %s and enter code: %s", deviceResp.VerificationURL, deviceResp.UserCode)
	fmt.Printf("\nPlease visit %s and enter code: %s\n\n", deviceResp.VerificationURL, deviceResp.UserCode)

	// Step 3: Poll for token until the code expires
	interval := time.Duration(deviceResp.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	pollCtx, cancelPoll := context.WithTimeout(ctx, time.Duration(deviceResp.ExpiresIn)*time.Second)
	defer cancelPoll()

	tokenReq := map[string]string{
		"code":          deviceResp.DeviceCode,
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
	}

	var tokenResp TokenResponse
	poll := func() error {
		err := c.do(pollCtx, http.MethodPost, "/oauth/device/token", tokenReq, &tokenResp, false)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch apiErr.StatusCode {
			case http.StatusBadRequest, http.StatusTooManyRequests:
				c.logger.Debug("Waiting for user authorization...")
				return errAuthorizationPending
			case http.StatusNotFound:
				return backoff.Permanent(fmt.Errorf("invalid device code"))
			case http.StatusConflict:
				return backoff.Permanent(fmt.Errorf("device code already used"))
			case http.StatusGone:
				return backoff.Permanent(fmt.Errorf("device code expired"))
			case http.StatusTeapot:
				return backoff.Permanent(fmt.Errorf("authorization denied by user"))
			}
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(poll, backoff.WithContext(backoff.NewConstantBackOff(interval), pollCtx)); err != nil {
		if errors.Is(err, errAuthorizationPending) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("authentication timeout")
		}
		return fmt.Errorf("authentication failed: %w", err)
	}

	// Success! Save token
	if err := c.saveTokenResponse(&tokenResp); err != nil {
		return err
	}

	c.logger.Info("Authentication successful!")
	return nil
}

// RefreshToken refreshes the access token using the refresh token
func (c *Client) RefreshToken(ctx context.Context) error {
	token, err := c.tokenStore.GetToken()
	if err != nil {
		return fmt.Errorf("no token to refresh: %w", err)
	}

	refreshReq := map[string]string{
		"refresh_token": token.RefreshToken,
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"grant_type":    "refresh_token",
	}

	var tokenResp TokenResponse
	if err := c.do(ctx, http.MethodPost, "/oauth/token", refreshReq, &tokenResp, false); err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}

	if err := c.saveTokenResponse(&tokenResp); err != nil {
		return err
	}

	c.logger.Info("Token refreshed successfully")
	return nil
}

func (c *Client) saveTokenResponse(resp *TokenResponse) error {
	token := &Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
	if err := c.tokenStore.SaveToken(token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}
