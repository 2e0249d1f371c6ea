// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/healthnav/healthnav/types"
)

// BackendConfig carries the credentials the factory may need. Empty fields
// fall back to the backend's environment variable.
type BackendConfig struct {
	GeminiAPIKey    string
	AnthropicAPIKey string
}

// New selects a backend from the model name: "claude-*" names build the
// Claude backend, "gemini-*" names and the empty name build Gemini.
func New(ctx context.Context, name string, cfg BackendConfig) (types.Model, error) {
	switch {
	case strings.HasPrefix(name, "claude-"):
		return NewClaude(cfg.AnthropicAPIKey, name)
	case name == "" || strings.HasPrefix(name, "gemini-"):
		return NewGemini(ctx, cfg.GeminiAPIKey, name)
	default:
		return nil, fmt.Errorf("model: no backend serves %q", name)
	}
}
