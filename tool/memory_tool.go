// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package tool

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/healthnav/healthnav/types"
)

// NewLoadMemoryTool returns a tool that lets an agent look up the user's
// long-term memory for a query.
func NewLoadMemoryTool() *FunctionTool {
	return NewFunctionTool(
		"load_memory",
		"Loads memories from past conversations that are relevant to the query.",
		types.EffectPure,
		loadMemory,
		WithParams(Param{
			Name:        "query",
			Type:        genai.TypeString,
			Description: "The query to search memories for.",
			Required:    true,
		}),
	)
}

func loadMemory(ctx context.Context, args map[string]any, toolCtx *types.ToolContext) (any, error) {
	query, _ := args["query"].(string)

	resp, err := toolCtx.SearchMemory(ctx, query)
	if err != nil {
		return nil, err
	}

	memories := make([]map[string]any, 0, len(resp.Memories))
	for _, m := range resp.Memories {
		entry := map[string]any{
			"author": m.Author,
			"time":   m.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			"text":   (&types.LLMResponse{Content: m.Content}).Text(),
		}
		if m.SessionID != "" {
			entry["session"] = m.SessionID
		}
		memories = append(memories, entry)
	}
	if len(memories) == 0 {
		return map[string]any{"memories": fmt.Sprintf("No memories found for %q.", query)}, nil
	}
	return map[string]any{"memories": memories}, nil
}
