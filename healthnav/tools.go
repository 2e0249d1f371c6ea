// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package healthnav

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"google.golang.org/genai"

	"github.com/healthnav/healthnav/pkg/logging"
	"github.com/healthnav/healthnav/tool"
	"github.com/healthnav/healthnav/types"
)

// StateUserLocation is the durable state key holding the user's city/state.
const StateUserLocation = types.UserPrefix + "location"

// NewHealthSearchTool returns the cdc_who_search tool: a search restricted to
// cdc.gov and who.int, used for guidance lookups and misinformation checks.
func NewHealthSearchTool(client SearchClient) *tool.FunctionTool {
	return tool.NewFunctionTool(
		"cdc_who_search",
		"Searches official CDC (cdc.gov) and WHO (who.int) content for health and medical guidance.",
		types.EffectPure,
		func(ctx context.Context, args map[string]any, toolCtx *types.ToolContext) (any, error) {
			query, _ := args["query"].(string)
			logging.FromContext(ctx).InfoContext(ctx, "cdc/who search", slog.String("query", query))

			results, err := client.Search(ctx, query, 5)
			if err != nil {
				return nil, err
			}
			if len(results) == 0 {
				return "No relevant information found on cdc.gov or who.int.", nil
			}
			return formatResults(results), nil
		},
		tool.WithParams(tool.Param{
			Name:        "query",
			Type:        genai.TypeString,
			Description: "The health topic or claim to look up.",
			Required:    true,
		}),
	)
}

// NewWebSearchTool returns the web_search tool: an open-web search used for
// hospital lookups and drug information.
func NewWebSearchTool(client SearchClient) *tool.FunctionTool {
	return tool.NewFunctionTool(
		"web_search",
		"Searches the open web.",
		types.EffectPure,
		func(ctx context.Context, args map[string]any, toolCtx *types.ToolContext) (any, error) {
			query, _ := args["query"].(string)
			results, err := client.Search(ctx, query, 5)
			if err != nil {
				return nil, err
			}
			if len(results) == 0 {
				return "No results found.", nil
			}
			return formatResults(results), nil
		},
		tool.WithParams(tool.Param{
			Name:        "query",
			Type:        genai.TypeString,
			Description: "The search query.",
			Required:    true,
		}),
	)
}

func formatResults(results []SearchResult) string {
	snippets := make([]string, len(results))
	for i, r := range results {
		snippets[i] = fmt.Sprintf("Source URL: %s\nTitle: %s\nSnippet: %s\n", r.Link, r.Title, r.Snippet)
	}
	return strings.Join(snippets, "\n---\n")
}

const tugoEndpoint = "https://api.tugo.com/v1/travelsafe/countries/"

// TuGoClient fetches country travel advisories from TuGo's Travel Advisory
// API.
type TuGoClient struct {
	apiKey   string
	client   *http.Client
	endpoint string
}

// NewTuGoClient creates a TuGo advisory client.
func NewTuGoClient(apiKey string) *TuGoClient {
	return &TuGoClient{
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: tugoEndpoint,
	}
}

// Advisory fetches the advisory for a country and normalizes it into the
// shape the travel pipeline expects.
func (c *TuGoClient) Advisory(ctx context.Context, country string) (map[string]any, error) {
	slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(country)), " ", "-")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+slug, nil)
	if err != nil {
		return nil, fmt.Errorf("build advisory request: %w", err)
	}
	req.Header.Set("X-Auth-API-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("advisory request for %q: %w", country, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read advisory response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("advisory for %q returned HTTP %d", country, resp.StatusCode)
	}

	var data map[string]any
	if err := sonic.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("decode advisory response: %w", err)
	}

	normalized := map[string]any{
		"country_input": country,
		"advisories":    data["advisories"],
		"health":        data["health"],
		"safety":        data["safety"],
		"entry_exit":    data["entryExit"],
		"sources":       []string{"TuGo Travel Advisory API"},
	}
	if countryInfo, ok := data["country"].(map[string]any); ok {
		normalized["country_resolved"] = countryInfo["name"]
	}
	return normalized, nil
}

// NewTravelAdvisoryTool returns the tugo_travel_advisory tool wrapping a
// [TuGoClient].
func NewTravelAdvisoryTool(client *TuGoClient) *tool.FunctionTool {
	return tool.NewFunctionTool(
		"tugo_travel_advisory",
		"Fetches travel advisory and health/safety information for a country.",
		types.EffectPure,
		func(ctx context.Context, args map[string]any, toolCtx *types.ToolContext) (any, error) {
			country, _ := args["country"].(string)
			return client.Advisory(ctx, country)
		},
		tool.WithParams(tool.Param{
			Name:        "country",
			Type:        genai.TypeString,
			Description: "The destination country name.",
			Required:    true,
		}),
	)
}

// NewSaveLocationTool returns the save_location tool. It records the user's
// location under durable user-scope state, where it survives across
// conversations.
func NewSaveLocationTool() *tool.FunctionTool {
	return tool.NewFunctionTool(
		"save_location",
		"Saves the user's city and state for later care lookups.",
		types.EffectStateful,
		func(ctx context.Context, args map[string]any, toolCtx *types.ToolContext) (any, error) {
			location, _ := args["location"].(string)
			location = strings.TrimSpace(location)
			if location == "" {
				return nil, fmt.Errorf("%w: location is empty", types.ErrInvalidArguments)
			}

			logging.FromContext(ctx).InfoContext(ctx, "saving user location", slog.String("location", location))
			if err := toolCtx.SetState(StateUserLocation, location); err != nil {
				return nil, err
			}
			return map[string]any{"status": "saved", StateUserLocation: location}, nil
		},
		tool.WithParams(tool.Param{
			Name:        "location",
			Type:        genai.TypeString,
			Description: "The user's city and state, e.g. Austin, TX.",
			Required:    true,
		}),
	)
}

// NewGetLocationTool returns the get_user_location tool. It reads the saved
// location, or reports NOT_SET.
func NewGetLocationTool() *tool.FunctionTool {
	return tool.NewFunctionTool(
		"get_user_location",
		"Retrieves the user's saved city and state.",
		types.EffectPure,
		func(ctx context.Context, args map[string]any, toolCtx *types.ToolContext) (any, error) {
			location := toolCtx.State().GetWithDefault(StateUserLocation, "NOT_SET")
			return map[string]any{"location": location}, nil
		},
	)
}
