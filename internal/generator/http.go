package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	api "github.com/panelforge/panelforge/api/v1alpha1"
)

// HTTPGenerator calls a remote generation backend over HTTP.
type HTTPGenerator struct {
	baseURL string
	client  *http.Client
}

var _ Generator = (*HTTPGenerator)(nil)

func NewHTTPGenerator(baseURL string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Input         api.UserInput `json:"input"`
	Topic         string        `json:"topic"`
	ExcludeTitles []string      `json:"excludeTitles,omitempty"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, input api.UserInput, topic string, excludeTitles []string) (*api.Panel, error) {
	body, err := json.Marshal(generateRequest{Input: input, Topic: topic, ExcludeTitles: excludeTitles})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("generation backend returned %d: %s", resp.StatusCode, string(msg))
	}

	var panel api.Panel
	if err := json.NewDecoder(resp.Body).Decode(&panel); err != nil {
		return nil, fmt.Errorf("decoding generated panel: %w", err)
	}

	return &panel, nil
}
