// Package hfvalidator confirms a Hugging Face model exists, is
// accessible with an optional token, and extracts its parameter
// dtype map for the VRAM Estimator.
package hfvalidator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/visgate-ai/visgate-deploy-api/internal/apperr"
)

const (
	defaultBaseURL   = "https://huggingface.co"
	validateTimeout  = 10 * time.Second
	pooledIdleConns  = 20
)

// ModelMetadata is the subset of the Hugging Face model-info response
// the engine needs.
type ModelMetadata struct {
	ModelID     string
	PipelineTag string
	Gated       bool
	Private     bool
	DtypeCounts map[string]int64 // from safetensors.parameters, dtype -> param count
}

// Validator calls the Hugging Face Hub API.
type Validator struct {
	baseURL string
	client  *http.Client
}

// New creates a Validator with a pooled HTTP client, the same shape as
// the teacher's NewPooledHTTPClient.
func New(baseURL string) *Validator {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Validator{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: validateTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        pooledIdleConns,
				MaxIdleConnsPerHost: pooledIdleConns,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type hfModelResponse struct {
	ID          string `json:"id"`
	PipelineTag string `json:"pipeline_tag"`
	Gated       any    `json:"gated"` // bool or string ("auto"/"manual") depending on model
	Private     bool   `json:"private"`
	SafeTensors struct {
		Parameters map[string]int64 `json:"parameters"`
	} `json:"safetensors"`
}

// Validate confirms hfModelID exists and is accessible with token (if
// any), and returns its metadata.
func (v *Validator) Validate(ctx context.Context, hfModelID, token string) (*ModelMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/models/%s", v.baseURL, hfModelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindRegistryUnreachable, "building HF request failed", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindRegistryUnreachable, "Hugging Face Hub unreachable", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through
	case http.StatusNotFound:
		return nil, apperr.New(apperr.KindModelNotFound, fmt.Sprintf("model %q was not found on Hugging Face", hfModelID))
	case http.StatusUnauthorized, http.StatusForbidden:
		if token == "" {
			return nil, apperr.New(apperr.KindModelGated, fmt.Sprintf("model %q is gated and requires hf_token", hfModelID))
		}
		return nil, apperr.New(apperr.KindModelGated, fmt.Sprintf("model %q rejected the supplied hf_token", hfModelID))
	default:
		return nil, apperr.New(apperr.KindRegistryUnreachable, fmt.Sprintf("Hugging Face Hub returned status %d", resp.StatusCode))
	}

	var parsed hfModelResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindRegistryUnreachable, "decoding HF model response failed", err)
	}

	gated := false
	switch g := parsed.Gated.(type) {
	case bool:
		gated = g
	case string:
		gated = g != "" && g != "false"
	}
	if gated && token == "" {
		return nil, apperr.New(apperr.KindModelGated, fmt.Sprintf("model %q is gated and requires hf_token", hfModelID))
	}

	return &ModelMetadata{
		ModelID:     parsed.ID,
		PipelineTag: parsed.PipelineTag,
		Gated:       gated,
		Private:     parsed.Private,
		DtypeCounts: parsed.SafeTensors.Parameters,
	}, nil
}
