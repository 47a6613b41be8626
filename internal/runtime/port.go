// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package runtime

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/retrovue/retrovue/internal/logging"
	"github.com/retrovue/retrovue/internal/models"
)

// TestMode reports whether the runtime should use the fake transport source
// instead of spawning a playout engine.
func TestMode() bool {
	return os.Getenv("RETROVUE_TEST_MODE") == "1"
}

// FakePort is a PlayoutPort that records requests without driving an
// engine. The runtime uses it under RETROVUE_TEST_MODE=1; tests inspect the
// recorded calls.
type FakePort struct {
	mu        sync.Mutex
	Previews  []models.PlayoutRequest
	Switches  []models.PlayoutRequest
	Teardowns int

	// FailPreview/FailSwitch inject errors for failure-path tests.
	FailPreview error
	FailSwitch  error
}

// NewFakePort creates an empty fake port.
func NewFakePort() *FakePort { return &FakePort{} }

func (p *FakePort) LoadPreview(_ context.Context, req *models.PlayoutRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailPreview != nil {
		return p.FailPreview
	}
	p.Previews = append(p.Previews, *req)
	logging.Debug().Str("asset", req.AssetPath).Msg("fake port: load preview")
	return nil
}

func (p *FakePort) SwitchToLive(_ context.Context, req *models.PlayoutRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailSwitch != nil {
		return p.FailSwitch
	}
	p.Switches = append(p.Switches, *req)
	logging.Debug().Str("asset", req.AssetPath).Msg("fake port: switch to live")
	return nil
}

func (p *FakePort) Teardown(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Teardowns++
	return nil
}

// HTTPPort drives a playout engine process over its HTTP control surface.
// Preview and switch requests carry the full PlayoutRequest as JSON.
type HTTPPort struct {
	baseURL string
	client  *http.Client
}

// NewHTTPPort creates a port for the engine at baseURL.
func NewHTTPPort(baseURL string) *HTTPPort {
	return &HTTPPort{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *HTTPPort) LoadPreview(ctx context.Context, req *models.PlayoutRequest) error {
	return p.post(ctx, "/control/preview", req)
}

func (p *HTTPPort) SwitchToLive(ctx context.Context, req *models.PlayoutRequest) error {
	return p.post(ctx, "/control/live", req)
}

func (p *HTTPPort) Teardown(ctx context.Context) error {
	return p.post(ctx, "/control/teardown", nil)
}

func (p *HTTPPort) post(ctx context.Context, path string, body any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("engine %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("engine %s: status %d", path, resp.StatusCode)
	}
	return nil
}

// Snapshot returns copies of the recorded calls.
func (p *FakePort) Snapshot() (previews, switches []models.PlayoutRequest, teardowns int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	previews = append(previews, p.Previews...)
	switches = append(switches, p.Switches...)
	return previews, switches, p.Teardowns
}
