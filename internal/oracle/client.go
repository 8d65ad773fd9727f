package oracle

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrPending means the oracle has not produced the value yet.
	ErrPending = errors.New("oracle: attestation pending")

	// ErrExpired means the request can no longer be fulfilled; the keeper
	// must commit a fresh slot and request again.
	ErrExpired = errors.New("oracle: request expired")

	// ErrUnavailable means the oracle endpoint could not be reached.
	// Always retryable.
	ErrUnavailable = errors.New("oracle: unavailable")

	// ErrInvalidAttestation means the returned attestation does not verify.
	ErrInvalidAttestation = errors.New("oracle: invalid attestation")
)

// Client is the keeper's access to the randomness oracle.
type Client interface {
	// RequestRandomness registers interest in a value for the committed
	// slot and returns an opaque request handle. Requests are idempotent
	// per pot and slot pair, so a crashed keeper can safely re-request.
	RequestRandomness(ctx context.Context, potID, commitSlot uint64) (string, error)

	// PollAttestation fetches the attestation for a handle. Returns
	// ErrPending while the oracle is still working and ErrExpired once the
	// request cannot be fulfilled anymore.
	PollAttestation(ctx context.Context, handle string) (*Attestation, error)
}

// HTTPClient implements Client against the oracle's REST endpoint.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClient creates an oracle client. A zero timeout falls back to 15
// seconds.
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type randomnessRequest struct {
	PotID      uint64 `json:"potId"`
	CommitSlot uint64 `json:"commitSlot"`
}

type randomnessResponse struct {
	Handle string `json:"handle"`
}

type attestationResponse struct {
	CommitSlot uint64 `json:"commitSlot"`
	Value      string `json:"value"`
	Signature  string `json:"signature"`
}

// RequestRandomness implements Client.
func (c *HTTPClient) RequestRandomness(ctx context.Context, potID, commitSlot uint64) (string, error) {
	body, err := json.Marshal(&randomnessRequest{PotID: potID, CommitSlot: commitSlot})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := c.endpoint + "/v1/requests"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusConflict:
		// Conflict still carries the handle of the existing request.
	default:
		if resp.StatusCode >= 500 {
			return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		}
		return "", fmt.Errorf("oracle: request refused with status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var dec randomnessResponse
	if err := json.Unmarshal(data, &dec); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if dec.Handle == "" {
		return "", fmt.Errorf("oracle: response carries no handle")
	}
	return dec.Handle, nil
}

// PollAttestation implements Client.
func (c *HTTPClient) PollAttestation(ctx context.Context, handle string) (*Attestation, error) {
	url := fmt.Sprintf("%s/v1/requests/%s/attestation", c.endpoint, handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusAccepted:
		return nil, ErrPending
	case http.StatusGone:
		return nil, ErrExpired
	case http.StatusNotFound:
		// The oracle no longer knows the handle; re-requesting is the only
		// way forward, same as an expiry.
		return nil, fmt.Errorf("%w: unknown handle", ErrExpired)
	default:
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		}
		return nil, fmt.Errorf("oracle: poll refused with status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var dec attestationResponse
	if err := json.Unmarshal(data, &dec); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrInvalidAttestation, err)
	}
	return dec.attestation()
}

func (r *attestationResponse) attestation() (*Attestation, error) {
	value, err := hex.DecodeString(r.Value)
	if err != nil || len(value) != 32 {
		return nil, fmt.Errorf("%w: value must be 32 hex bytes", ErrInvalidAttestation)
	}
	signature, err := hex.DecodeString(r.Signature)
	if err != nil || len(signature) != 64 {
		return nil, fmt.Errorf("%w: signature must be 64 hex bytes", ErrInvalidAttestation)
	}
	a := &Attestation{CommitSlot: r.CommitSlot, Signature: signature}
	copy(a.Value[:], value)
	return a, nil
}
