// Package classifier shapes a result set into a visualization description.
// It never fails: every problem degrades to the table fallback.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/engine"
	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/observability"
)

const FallbackSummary = "Unable to analyze data."

const (
	VisualKPI   = "kpi"
	VisualLine  = "line"
	VisualBar   = "bar"
	VisualTable = "table"
)

const systemPrompt = `You are a data visualization engine for a clean, modern dashboard.

Return ONLY valid JSON (no markdown, no explanations).

Allowed visualization types:
- "kpi" (single number)
- "line" (time trends)
- "bar" (category comparison)
- "table" (fallback)

DO NOT use pie, scatter, or complex charts.

Response format:
{
  "visual": {
    "type": "kpi" | "line" | "bar" | "table",
    "index": "x-axis key (string)",
    "categories": ["numericKey1", "numericKey2"]
  },
  "data": [ { "key": "value", ... } ],
  "summary": {
    "text": "explain the data and the query to the user, summarize what it means and how it can help"
  }
}

CRITICAL RULES:
- data must be a flat array of objects
- all rows must have the same keys
- numeric values MUST be numbers, not strings
- for "kpi" type: data should have one object with the metric
- for "line"/"bar": index is the x-axis, categories are y-axis metrics
- keep it simple and pretty`

type Visual struct {
	Type       string   `json:"type"`
	Index      string   `json:"index,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

type Summary struct {
	Text string `json:"text"`
}

type Analysis struct {
	Visual  Visual       `json:"visual"`
	Data    []engine.Row `json:"data"`
	Summary Summary      `json:"summary"`
}

type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	PreviewRows int
}

type Classifier struct {
	client llm.Client
	opts   Options
	logger *slog.Logger
}

func New(client llm.Client, opts Options, logger *slog.Logger) *Classifier {
	if opts.PreviewRows <= 0 {
		opts.PreviewRows = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{client: client, opts: opts, logger: logger}
}

// Fallback is the deterministic shape used whenever classification fails.
func Fallback(rows []engine.Row) Analysis {
	if rows == nil {
		rows = []engine.Row{}
	}
	return Analysis{
		Visual:  Visual{Type: VisualTable},
		Data:    rows,
		Summary: Summary{Text: FallbackSummary},
	}
}

// Classify sends a preview of rows and the question to the model. model
// overrides the configured classifier model when set.
func (c *Classifier) Classify(ctx context.Context, question string, rows []engine.Row, model string) Analysis {
	analysis, err := c.classify(ctx, question, rows, model)
	if err != nil {
		observability.IncrementClassifierFallback()
		c.logger.WarnContext(ctx, "result classification failed; using table fallback",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("error", err.Error()),
		)
		return Fallback(rows)
	}
	return analysis
}

func (c *Classifier) classify(ctx context.Context, question string, rows []engine.Row, model string) (Analysis, error) {
	preview := rows
	if len(preview) > c.opts.PreviewRows {
		preview = preview[:c.opts.PreviewRows]
	}
	if preview == nil {
		preview = []engine.Row{}
	}
	data, err := json.Marshal(preview)
	if err != nil {
		return Analysis{}, fmt.Errorf("marshal preview rows: %w", err)
	}

	opts := llm.Options{Model: c.opts.Model, Temperature: c.opts.Temperature, MaxTokens: c.opts.MaxTokens}
	if override := strings.TrimSpace(model); override != "" {
		opts.Model = override
	}
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: "Question: " + question + "\nData: " + string(data)},
	}

	start := time.Now()
	raw, err := c.client.Chat(ctx, messages, opts)
	observability.ObserveModelCall(observability.ModelPurposeClassify, err, time.Since(start))
	if err != nil {
		return Analysis{}, fmt.Errorf("classify result: %w", err)
	}
	return parse(raw, rows)
}

func parse(raw string, rows []engine.Row) (Analysis, error) {
	clean := strings.ReplaceAll(raw, "```json", "")
	clean = strings.TrimSpace(strings.ReplaceAll(clean, "```", ""))

	var analysis Analysis
	if err := json.Unmarshal([]byte(clean), &analysis); err != nil {
		return Analysis{}, fmt.Errorf("decode classification: %w", err)
	}
	switch analysis.Visual.Type {
	case VisualKPI, VisualLine, VisualBar, VisualTable:
	default:
		return Analysis{}, fmt.Errorf("unsupported visual type %q", analysis.Visual.Type)
	}
	if analysis.Data == nil {
		analysis.Data = rows
		if analysis.Data == nil {
			analysis.Data = []engine.Row{}
		}
	}
	return analysis, nil
}
