// Package pipeline answers a question about a registered database: it
// generates a statement, runs it in the sandbox, corrects it once on a query
// error, classifies the rows and records the exchange.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/askdb/askdb/internal/apperr"
	"github.com/askdb/askdb/internal/archive"
	"github.com/askdb/askdb/internal/catalog"
	"github.com/askdb/askdb/internal/classifier"
	"github.com/askdb/askdb/internal/engine"
	"github.com/askdb/askdb/internal/ledger"
	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/schema"
)

type Resolver interface {
	ResolveForOwner(ctx context.Context, connectionID int64, userID string) (catalog.Connection, error)
}

type SnapshotReader interface {
	Retrieve(ctx context.Context, connectionID int64) (schema.Snapshot, error)
}

type Translator interface {
	Translate(ctx context.Context, req nl2sql.Request) (nl2sql.Result, error)
	Correct(ctx context.Context, c nl2sql.Correction, model string) (nl2sql.Result, error)
}

type Executor interface {
	Execute(ctx context.Context, connectionID int64, statement string) (engine.Result, error)
}

type Classifier interface {
	Classify(ctx context.Context, question string, rows []engine.Row, model string) classifier.Analysis
}

type Ledger interface {
	Ensure(ctx context.Context, conversationID int64, userID string, connectionID int64, question string) (int64, error)
	History(ctx context.Context, conversationID int64, limit int) ([]catalog.Message, error)
	AppendUser(ctx context.Context, conversationID int64, question string) (catalog.Message, error)
	AppendAssistant(ctx context.Context, conversationID int64, turn ledger.AssistantTurn) (catalog.Message, error)
	Touch(ctx context.Context, conversationID int64) error
}

type Archiver interface {
	Archive(ctx context.Context, req archive.Request) (string, error)
}

type Question struct {
	ConnectionID int64
	Text         string
	// ConversationID is zero when the caller starts a new conversation.
	ConversationID int64
	UserID         string
	// Model overrides the configured models for this question.
	Model string
}

type Answer struct {
	SQL            string             `json:"sql"`
	Visual         classifier.Visual  `json:"visual"`
	Data           []engine.Row       `json:"data"`
	Summary        classifier.Summary `json:"summary"`
	ConversationID *int64             `json:"conversation_id"`
	Truncated      bool               `json:"truncated"`
	ResultKey      string             `json:"result_key,omitempty"`
}

type Options struct {
	// RetryBudget is the number of corrective regenerations allowed.
	RetryBudget  int
	HistoryLimit int
}

type Dependencies struct {
	Connections Resolver
	Snapshots   SnapshotReader
	Translator  Translator
	Sandbox     Executor
	Classifier  Classifier
	Ledger      Ledger
	// Archiver is optional.
	Archiver Archiver
}

type Orchestrator struct {
	deps   Dependencies
	opts   Options
	logger *slog.Logger
}

func New(deps Dependencies, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.RetryBudget < 0 {
		opts.RetryBudget = 0
	}
	if opts.HistoryLimit < 0 {
		opts.HistoryLimit = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{deps: deps, opts: opts, logger: logger}
}

// Ask runs the whole pipeline for one question. A query error that survives
// the retry budget is returned as the sandbox reported it.
func (o *Orchestrator) Ask(ctx context.Context, q Question) (Answer, error) {
	answer, err := o.ask(ctx, q)
	switch {
	case err == nil:
		observability.ObserveQuestion("ok")
	case apperr.IsKind(err, apperr.KindQuery):
		observability.ObserveQuestion("query_error")
	default:
		observability.ObserveQuestion("error")
	}
	return answer, err
}

func (o *Orchestrator) ask(ctx context.Context, q Question) (Answer, error) {
	question := strings.TrimSpace(q.Text)
	if q.ConnectionID <= 0 {
		return Answer{}, apperr.Validation("MISSING_CONNECTION_ID", "connection_id is required")
	}
	if question == "" {
		return Answer{}, apperr.Validation("MISSING_QUESTION", "question is required")
	}

	conn, err := o.deps.Connections.ResolveForOwner(ctx, q.ConnectionID, q.UserID)
	if err != nil {
		return Answer{}, err
	}
	kind, ok := engine.ParseKind(conn.Engine)
	if !ok {
		return Answer{}, apperr.UnsupportedEngine(conn.Engine)
	}

	conversationID, err := o.deps.Ledger.Ensure(ctx, q.ConversationID, q.UserID, q.ConnectionID, question)
	if err != nil {
		return Answer{}, err
	}

	snapshot, err := o.deps.Snapshots.Retrieve(ctx, q.ConnectionID)
	if err != nil {
		o.logger.WarnContext(ctx, "schema snapshot unavailable; generating without schema context",
			o.attrs(ctx, q.ConnectionID, 0, slog.String("error", err.Error()))...)
		snapshot = schema.Snapshot{}
	}

	history, err := o.history(ctx, conversationID)
	if err != nil {
		return Answer{}, err
	}
	if conversationID != 0 {
		if _, err := o.deps.Ledger.AppendUser(ctx, conversationID, question); err != nil {
			return Answer{}, err
		}
	}

	q.Text = question
	statement, result, err := o.generateAndExecute(ctx, q, kind, conn.Database, snapshot, history)
	if err != nil {
		return Answer{}, err
	}

	analysis := o.deps.Classifier.Classify(ctx, question, result.Rows, q.Model)
	resultKey := o.archive(ctx, q.ConnectionID, conversationID, result)

	if conversationID != 0 {
		if _, err := o.deps.Ledger.AppendAssistant(ctx, conversationID, ledger.AssistantTurn{
			Summary:    analysis.Summary.Text,
			SQL:        statement,
			VisualType: analysis.Visual.Type,
			ResultKey:  resultKey,
		}); err != nil {
			return Answer{}, err
		}
		if err := o.deps.Ledger.Touch(ctx, conversationID); err != nil {
			return Answer{}, err
		}
	}

	answer := Answer{
		SQL:       statement,
		Visual:    analysis.Visual,
		Data:      analysis.Data,
		Summary:   analysis.Summary,
		Truncated: result.Truncated,
		ResultKey: resultKey,
	}
	if conversationID != 0 {
		answer.ConversationID = &conversationID
	}
	return answer, nil
}

func (o *Orchestrator) history(ctx context.Context, conversationID int64) ([]llm.Message, error) {
	messages, err := o.deps.Ledger.History(ctx, conversationID, o.opts.HistoryLimit)
	if err != nil {
		return nil, err
	}
	history := make([]llm.Message, 0, len(messages))
	for _, msg := range messages {
		role := llm.RoleUser
		if msg.Role == catalog.RoleAssistant {
			role = llm.RoleAssistant
		}
		history = append(history, llm.Message{Role: role, Content: msg.Content})
	}
	return history, nil
}

// generateAndExecute is the Generating → Executing → Correcting loop. Only
// query errors are corrected; every other failure ends the question.
func (o *Orchestrator) generateAndExecute(
	ctx context.Context,
	q Question,
	kind engine.Kind,
	database string,
	snapshot schema.Snapshot,
	history []llm.Message,
) (string, engine.Result, error) {
	o.logger.DebugContext(ctx, "pipeline generating", o.attrs(ctx, q.ConnectionID, 1)...)
	generated, err := o.deps.Translator.Translate(ctx, nl2sql.Request{
		PromptInput: nl2sql.PromptInput{
			Question: q.Text,
			Engine:   kind,
			Database: database,
			Snapshot: snapshot,
			History:  history,
		},
		Model: q.Model,
	})
	if err != nil {
		return "", engine.Result{}, err
	}
	statement := generated.SQL

	for attempt := 1; ; attempt++ {
		o.logger.DebugContext(ctx, "pipeline executing", o.attrs(ctx, q.ConnectionID, attempt)...)
		result, err := o.deps.Sandbox.Execute(ctx, q.ConnectionID, statement)
		if err == nil {
			o.logger.DebugContext(ctx, "pipeline done", o.attrs(ctx, q.ConnectionID, attempt, slog.Int("rows", len(result.Rows)))...)
			return statement, result, nil
		}

		var queryErr *apperr.Error
		if !errors.As(err, &queryErr) || queryErr.Kind != apperr.KindQuery {
			return "", engine.Result{}, err
		}
		if attempt > o.opts.RetryBudget {
			o.logger.DebugContext(ctx, "pipeline done", o.attrs(ctx, q.ConnectionID, attempt, slog.String("error_code", queryErr.Code))...)
			return "", engine.Result{}, err
		}

		o.logger.DebugContext(ctx, "pipeline correcting",
			o.attrs(ctx, q.ConnectionID, attempt, slog.String("error_code", queryErr.Code))...)
		observability.IncrementSQLCorrection()
		corrected, err := o.deps.Translator.Correct(ctx, nl2sql.Correction{
			Engine:    kind,
			Database:  database,
			Statement: statement,
			Code:      queryErr.Code,
			Message:   queryErr.Message,
		}, q.Model)
		if err != nil {
			return "", engine.Result{}, err
		}
		statement = corrected.SQL
	}
}

func (o *Orchestrator) archive(ctx context.Context, connectionID, conversationID int64, result engine.Result) string {
	if o.deps.Archiver == nil {
		return ""
	}
	key, err := o.deps.Archiver.Archive(ctx, archive.Request{
		ConnectionID:   connectionID,
		ConversationID: conversationID,
		Columns:        result.Columns,
		Rows:           result.Rows,
	})
	if err != nil {
		o.logger.WarnContext(ctx, "result archive failed",
			o.attrs(ctx, connectionID, 0, slog.String("error", err.Error()))...)
		return ""
	}
	return key
}

func (o *Orchestrator) attrs(ctx context.Context, connectionID int64, attempt int, extra ...any) []any {
	attrs := []any{
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.Int64("connection_id", connectionID),
	}
	if attempt > 0 {
		attrs = append(attrs, slog.Int("attempt", attempt))
	}
	return append(attrs, extra...)
}
