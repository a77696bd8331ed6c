package nl2sql

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/engine"
	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/schema"
)

const businessTerms = `UNDERSTANDING BUSINESS TERMS:
When user says "insight" or "trend" → Create time-series query with GROUP BY date
When user says "kpi" or "performance" → Query the kpis table or calculate key metrics
When user says "revenue" or "sales" → Use SUM(sales.amount)
When user says "top" or "best" → Add ORDER BY DESC LIMIT 10
When user says "breakdown" or "by category" → Add GROUP BY clause
When user says "average" → Use AVG() function
When user says "total" → Use SUM() function
When user says "growth" or "change" → Compare time periods`

// PromptInput is everything the generation prompt is built from. History must
// already be ordered oldest first and capped by the caller.
type PromptInput struct {
	Question string
	Engine   engine.Kind
	Database string
	Snapshot schema.Snapshot
	History  []llm.Message
}

// Correction describes a statement the target database rejected.
type Correction struct {
	Engine    engine.Kind
	Database  string
	Statement string
	Code      string
	Message   string
}

// BuildPrompt returns the system block, the replayed history and the
// question, in that order. Identical inputs produce identical messages.
func BuildPrompt(in PromptInput) ([]llm.Message, error) {
	question := "User question: " + strings.TrimSpace(in.Question)
	if !in.Snapshot.Empty() {
		encoded, err := json.Marshal(in.Snapshot)
		if err != nil {
			return nil, fmt.Errorf("marshal schema snapshot: %w", err)
		}
		question += "\nSchema JSON: " + string(encoded)
	}

	messages := make([]llm.Message, 0, len(in.History)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: SystemPrompt(in.Engine, in.Database)})
	for _, turn := range in.History {
		if turn.Role != llm.RoleUser && turn.Role != llm.RoleAssistant {
			continue
		}
		messages = append(messages, turn)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: question})
	return messages, nil
}

// BuildCorrectionPrompt replaces the question with the failed statement and
// the engine's error. History is not replayed.
func BuildCorrectionPrompt(c Correction) []llm.Message {
	code := strings.TrimSpace(c.Code)
	if code == "" {
		code = "UNKNOWN"
	}
	content := fmt.Sprintf("Previous query: %s\nError: %s\nCode: %s\nFix the SQL query based on the error above. Output ONLY the fixed SQL.",
		c.Statement, c.Message, code)
	return []llm.Message{
		{Role: llm.RoleSystem, Content: SystemPrompt(c.Engine, c.Database)},
		{Role: llm.RoleUser, Content: content},
	}
}

func SystemPrompt(kind engine.Kind, database string) string {
	dialect := kind.Dialect()

	var b strings.Builder
	fmt.Fprintf(&b, "You are a SQL query generator. Only output a single %s SELECT statement. "+
		"Never delete, drop or run any statement that changes the database. No backticks, no markdown, no explanations.\n\n", dialect)
	b.WriteString(businessTerms)
	b.WriteString("\n\nIMPORTANT RULES:\n")
	b.WriteString("- Use proper JOINs when querying multiple tables\n")
	b.WriteString("- Add WHERE clauses for relevant filtering\n")
	b.WriteString("- Use date functions for time-based queries\n")
	b.WriteString("- Always include LIMIT to prevent huge result sets\n\n")

	b.WriteString("Rules:\n")
	fmt.Fprintf(&b, "1) Output exactly ONE %s SELECT statement.\n", dialect)
	b.WriteString("2) Never use SHOW, DESCRIBE, EXPLAIN, or any non-SELECT statements.\n")
	fmt.Fprintf(&b, "3) For listing tables/columns, query information_schema.tables and information_schema.columns and filter %s.\n",
		schemaFilter(kind, database))
	b.WriteString("4) Do not modify data and do not include comments or markdown.\n")
	fmt.Fprintf(&b, "5) Database type: %s\n", dialect)
	fmt.Fprintf(&b, "6) Use %s-specific syntax and functions.\n", dialect)
	if kind == engine.KindPostgreSQL {
		b.WriteString("7) Use PostgreSQL-specific features like LIMIT, OFFSET, and proper casting (::type).")
	} else {
		b.WriteString("7) Use MySQL-specific features like LIMIT with offset syntax.")
	}
	return b.String()
}

func schemaFilter(kind engine.Kind, database string) string {
	if kind == engine.KindPostgreSQL {
		return "table_schema = 'public'"
	}
	return fmt.Sprintf("table_schema = '%s'", strings.ReplaceAll(database, "'", "''"))
}
