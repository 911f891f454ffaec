package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	createTimeout = 30 * time.Second
	pollTimeout   = 15 * time.Second
	pooledConns   = 16
)

// runpodErrorPayload is the shape of an error response from the
// provider's REST surface.
type runpodErrorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// capacityErrorCodes are the provider error codes that mean "no GPU of
// this tier is available right now" rather than a hard failure.
var capacityErrorCodes = map[string]bool{
	"NO_CAPACITY":       true,
	"GPU_UNAVAILABLE":   true,
	"WORKER_LIMIT":      true,
	"INSUFFICIENT_GPUS": true,
}

// RunpodAdapter talks to a RunPod-style serverless GPU REST API.
// Grounded on the teacher's HTTPControlManager: a pooled *http.Client
// issuing JSON requests against a small set of sidecar-shaped
// endpoints, with the response body decoded into a typed struct.
type RunpodAdapter struct {
	baseURL    string
	apiKey     string
	templateID string
	client     *http.Client
}

// NewRunpodAdapter creates an adapter against baseURL, authenticating
// every call with apiKey and using templateID as the provider template
// reference for new endpoints. The key is fixed at construction; the
// adapter takes no per-request credential, so endpoints are created
// under apiKey's account, not under the key a deployment's caller
// presented.
func NewRunpodAdapter(baseURL, apiKey, templateID string) *RunpodAdapter {
	return &RunpodAdapter{
		baseURL:    baseURL,
		apiKey:     apiKey,
		templateID: templateID,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        pooledConns,
				MaxIdleConnsPerHost: pooledConns,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type createEndpointRequest struct {
	Name       string            `json:"name"`
	TemplateID string            `json:"templateId"`
	GPUTierID  string            `json:"gpuTypeId"`
	Env        map[string]string `json:"env"`
	WorkersMin int               `json:"workersMin"`
	WorkersMax int               `json:"workersMax"`
	IdleSecs   int               `json:"idleTimeout"`
	ScalerType string            `json:"scalerType"`
	ScalerVal  int               `json:"scalerValue"`
}

type createEndpointResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateEndpoint creates an endpoint on the provider. A NO_CAPACITY
// (or similarly coded) error is surfaced as a *CapacityError so the
// engine's fallback loop can distinguish it from a hard failure.
func (r *RunpodAdapter) CreateEndpoint(ctx context.Context, in CreateEndpointInput) (*CreateEndpointOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	reqBody := createEndpointRequest{
		Name:       in.Name,
		TemplateID: r.templateID,
		GPUTierID:  in.GPUTierID,
		Env:        in.EnvVars,
		WorkersMin: in.Worker.WorkersMin,
		WorkersMax: in.Worker.WorkersMax,
		IdleSecs:   in.Worker.IdleTimeoutSeconds,
		ScalerType: in.Worker.ScalerType,
		ScalerVal:  in.Worker.ScalerValue,
	}

	var out createEndpointResponse
	if err := r.doJSON(ctx, http.MethodPost, "/v2/endpoints", reqBody, &out, in.GPUTierID); err != nil {
		return nil, err
	}
	return &CreateEndpointOutput{EndpointID: out.ID, EndpointURL: out.URL}, nil
}

// DeleteEndpoint deletes an endpoint. Deletion is best-effort from the
// engine's perspective, but the adapter itself reports failure
// honestly — the engine decides whether to treat it as fatal.
func (r *RunpodAdapter) DeleteEndpoint(ctx context.Context, endpointID string) error {
	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()
	return r.doJSON(ctx, http.MethodDelete, "/v2/endpoints/"+endpointID, nil, nil, "")
}

// ListEndpoints lists all endpoint ids owned by the caller's key.
func (r *RunpodAdapter) ListEndpoints(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	var out []createEndpointResponse
	if err := r.doJSON(ctx, http.MethodGet, "/v2/endpoints", nil, &out, ""); err != nil {
		return nil, err
	}
	ids := make([]string, len(out))
	for i, e := range out {
		ids[i] = e.ID
	}
	return ids, nil
}

type endpointStatusResponse struct {
	Created      bool   `json:"created"`
	WorkersReady int    `json:"workersReady"`
	LastError    string `json:"lastError"`
}

// GetEndpointStatus polls the provider for an endpoint's current
// worker count and last error, if any.
func (r *RunpodAdapter) GetEndpointStatus(ctx context.Context, endpointID string) (*EndpointStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	var out endpointStatusResponse
	if err := r.doJSON(ctx, http.MethodGet, "/v2/endpoints/"+endpointID+"/status", nil, &out, ""); err != nil {
		return nil, err
	}
	return &EndpointStatus{
		Created:      out.Created,
		WorkersReady: out.WorkersReady,
		LastError:    out.LastError,
	}, nil
}

// doJSON issues an HTTP request with an optional JSON body, decoding
// the response into out (if non-nil) on success, and classifying a
// non-2xx response into a *CapacityError or a plain error. tierID is
// attached to a resulting CapacityError so the engine can log which
// tier was rejected.
func (r *RunpodAdapter) doJSON(ctx context.Context, method, path string, body, out any, tierID string) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode provider response: %w", err)
		}
		return nil
	}

	var errPayload runpodErrorPayload
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &errPayload)

	if capacityErrorCodes[errPayload.Error.Code] {
		return &CapacityError{TierID: tierID, cause: fmt.Errorf("%s", errPayload.Error.Message)}
	}
	if errPayload.Error.Message != "" {
		return fmt.Errorf("provider error (status %d, code %s): %s", resp.StatusCode, errPayload.Error.Code, errPayload.Error.Message)
	}
	return fmt.Errorf("provider error: status %d: %s", resp.StatusCode, string(raw))
}
