// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rapidaai/chirp/pkg/commons"
)

// ProviderClient talks to the realtime provider's REST surface: ephemeral
// session-token creation and the SDP offer/answer exchange.
type ProviderClient interface {
	// CreateSession requests an ephemeral session token using the long-lived
	// credential. A non-2xx response is returned as *ProviderError.
	CreateSession(ctx context.Context, apiKey string, config SessionConfig) (*SessionInfo, error)

	// ExchangeSDP posts the local offer SDP and returns the remote answer SDP,
	// authenticated with the ephemeral token.
	ExchangeSDP(ctx context.Context, ephemeralKey, model, offerSDP string) (string, error)
}

type providerClient struct {
	logger commons.Logger
	http   *resty.Client
}

// NewProviderClient creates a provider client rooted at baseURL
// (e.g. https://api.openai.com).
func NewProviderClient(logger commons.Logger, baseURL string) ProviderClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("OpenAI-Beta", "realtime=v1")

	return &providerClient{logger: logger, http: client}
}

type createSessionRequest struct {
	Model      string   `json:"model"`
	Voice      string   `json:"voice"`
	Modalities []string `json:"modalities"`
}

type createSessionResponse struct {
	ClientSecret struct {
		Value string `json:"value"`
	} `json:"client_secret"`
	Model string `json:"model"`
}

func (c *providerClient) CreateSession(ctx context.Context, apiKey string, config SessionConfig) (*SessionInfo, error) {
	modalities := []string{"audio"}
	if config.Transcribe {
		modalities = []string{"text", "audio"}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(createSessionRequest{
			Model:      config.Model,
			Voice:      config.Voice,
			Modalities: modalities,
		}).
		Post("/v1/realtime/sessions")
	if err != nil {
		return nil, fmt.Errorf("session request failed: %w", err)
	}
	if resp.IsError() {
		return nil, &ProviderError{Endpoint: "session", Status: resp.StatusCode(), Body: string(resp.Body())}
	}

	var parsed createSessionResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse session response: %w", err)
	}
	if parsed.ClientSecret.Value == "" {
		return nil, fmt.Errorf("session response missing client secret")
	}

	model := parsed.Model
	if model == "" {
		model = config.Model
	}
	c.logger.Debugw("Created realtime session", "model", model)
	return &SessionInfo{ClientSecret: parsed.ClientSecret.Value, Model: model}, nil
}

func (c *providerClient) ExchangeSDP(ctx context.Context, ephemeralKey, model, offerSDP string) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(ephemeralKey).
		SetHeader("Content-Type", "application/sdp").
		SetQueryParam("model", model).
		SetBody(offerSDP).
		Post("/v1/realtime")
	if err != nil {
		return "", fmt.Errorf("sdp request failed: %w", err)
	}
	if resp.IsError() {
		return "", &ProviderError{Endpoint: "sdp", Status: resp.StatusCode(), Body: string(resp.Body())}
	}
	return string(resp.Body()), nil
}
