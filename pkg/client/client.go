// Package client is a Go client for the call signaling REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"callsignal-backend/internal/domain"
	apperrors "callsignal-backend/pkg/errors"
)

// DefaultTimeout bounds a single API request
const DefaultTimeout = 10 * time.Second

// Client calls the signaling service on behalf of one authenticated user
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client for baseURL (e.g. http://localhost:8083) using a bearer token
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// InitiateCall starts a call to receiverID
func (c *Client) InitiateCall(ctx context.Context, receiverID uuid.UUID, media domain.MediaKind) (*domain.CallView, error) {
	var view domain.CallView
	body := map[string]string{"receiver_id": receiverID.String(), "media_kind": string(media)}
	if err := c.do(ctx, http.MethodPost, "/v1/calls", body, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// ActiveCall returns the user's ringing or connected call, or nil
func (c *Client) ActiveCall(ctx context.Context) (*domain.CallView, error) {
	var view *domain.CallView
	if err := c.do(ctx, http.MethodGet, "/v1/calls/active", nil, &view); err != nil {
		return nil, err
	}
	return view, nil
}

// GetCall returns a call with the peer's profile
func (c *Client) GetCall(ctx context.Context, callID uuid.UUID) (*domain.CallView, error) {
	var view domain.CallView
	if err := c.do(ctx, http.MethodGet, callPath(callID, ""), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Accept answers a ringing call
func (c *Client) Accept(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	var call domain.Call
	if err := c.do(ctx, http.MethodPost, callPath(callID, "/accept"), nil, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// Terminate declines, cancels or hangs up a call
func (c *Client) Terminate(ctx context.Context, callID uuid.UUID, reason string) (*domain.Call, error) {
	var body interface{}
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	var call domain.Call
	if err := c.do(ctx, http.MethodPost, callPath(callID, "/terminate"), body, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// SubmitOffer stores the caller's session offer
func (c *Client) SubmitOffer(ctx context.Context, callID uuid.UUID, payload string) (*domain.SignalingState, error) {
	return c.putSignal(ctx, callPath(callID, "/offer"), payload)
}

// SubmitAnswer stores the receiver's session answer
func (c *Client) SubmitAnswer(ctx context.Context, callID uuid.UUID, payload string) (*domain.SignalingState, error) {
	return c.putSignal(ctx, callPath(callID, "/answer"), payload)
}

func (c *Client) putSignal(ctx context.Context, path, payload string) (*domain.SignalingState, error) {
	var state domain.SignalingState
	if err := c.do(ctx, http.MethodPut, path, map[string]string{"payload": payload}, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Signaling reads the current offer, answer and status
func (c *Client) Signaling(ctx context.Context, callID uuid.UUID) (*domain.SignalingState, error) {
	var state domain.SignalingState
	if err := c.do(ctx, http.MethodGet, callPath(callID, "/signaling"), nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// AddCandidate appends a local connectivity candidate
func (c *Client) AddCandidate(ctx context.Context, callID uuid.UUID, payload string) (*domain.ICECandidate, error) {
	var candidate domain.ICECandidate
	if err := c.do(ctx, http.MethodPost, callPath(callID, "/candidates"), map[string]string{"payload": payload}, &candidate); err != nil {
		return nil, err
	}
	return &candidate, nil
}

// Candidates lists candidates with a sequence above after. excludeOwn drops the user's own.
func (c *Client) Candidates(ctx context.Context, callID uuid.UUID, after int64, excludeOwn bool) ([]*domain.ICECandidate, error) {
	query := url.Values{}
	if after > 0 {
		query.Set("after", strconv.FormatInt(after, 10))
	}
	if excludeOwn {
		query.Set("exclude_own", "true")
	}
	path := callPath(callID, "/candidates")
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var candidates []*domain.ICECandidate
	if err := c.do(ctx, http.MethodGet, path, nil, &candidates); err != nil {
		return nil, err
	}
	return candidates, nil
}

// RegisterPushToken registers a device token for incoming call alerts
func (c *Client) RegisterPushToken(ctx context.Context, token, tokenType, platform string) error {
	body := map[string]string{"token": token, "type": tokenType}
	if platform != "" {
		body["platform"] = platform
	}
	return c.do(ctx, http.MethodPost, "/v1/push/tokens", body, nil)
}

func callPath(callID uuid.UUID, suffix string) string {
	return "/v1/calls/" + callID.String() + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return apperrors.NewWithStatus(apperrors.ErrCodeInternal, http.StatusText(resp.StatusCode), resp.StatusCode)
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if !env.Success || resp.StatusCode >= http.StatusBadRequest {
		if env.Error == nil {
			return apperrors.NewWithStatus(apperrors.ErrCodeInternal, http.StatusText(resp.StatusCode), resp.StatusCode)
		}
		return apperrors.NewWithStatus(apperrors.ErrorCode(env.Error.Code), env.Error.Message, resp.StatusCode)
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

// IsTransient reports whether err is worth retrying: network failures,
// timeouts, rate limiting and server-side errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode == http.StatusTooManyRequests || appErr.StatusCode >= http.StatusInternalServerError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
