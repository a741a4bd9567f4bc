package ai

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/aman-zulfiqar/krc20-swap/internal/constants"
	"github.com/aman-zulfiqar/krc20-swap/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	defaultModel    = "openai/gpt-4.1-mini"
	defaultDatabase = "krc20"
	openRouterURL   = "https://openrouter.ai/api/v1"

	// maxRows caps what is sent back to the LLM for summarising.
	maxRows = 200
)

// ErrUnsafeSQL is returned when generated SQL fails validation.
var ErrUnsafeSQL = errors.New("unsafe sql")

// AgentConfig holds configuration for the AI agent.
type AgentConfig struct {
	// ClickHouse connection settings.
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string

	// OpenRouter / LLM settings.
	OpenRouterAPIKey string
	// Model name as understood by OpenRouter, e.g. "openai/gpt-4.1-mini".
	Model string

	Logger *logrus.Logger
}

// completeFunc sends one prompt and returns the model's text.
type completeFunc func(ctx context.Context, prompt string) (string, error)

// queryFunc runs a validated SELECT and returns its rows.
type queryFunc func(ctx context.Context, query string) ([]map[string]any, error)

// Agent answers questions about archived swap orders: the LLM writes a
// SELECT over swap_orders, ClickHouse runs it and the LLM summarises rows.
type Agent struct {
	complete completeFunc
	query    queryFunc
	db       *sql.DB
	database string
	logger   *logrus.Logger
}

// AskResult is the structured result of an Ask call.
type AskResult struct {
	SQL    string
	Rows   int
	Answer string
}

// NewAgent connects to OpenRouter and ClickHouse.
func NewAgent(ctx context.Context, cfg AgentConfig) (*Agent, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.OpenRouterAPIKey == "" {
		return nil, fmt.Errorf("OPENROUTER_API_KEY is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.ClickHouseDatabase == "" {
		cfg.ClickHouseDatabase = defaultDatabase
	}

	// OpenRouter speaks the OpenAI API
	llm, err := openai.New(
		openai.WithToken(cfg.OpenRouterAPIKey),
		openai.WithBaseURL(openRouterURL),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create OpenRouter LLM: %w", err)
	}

	db := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{cfg.ClickHouseAddr},
		Auth: clickhouse.Auth{
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
		},
	})
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping ClickHouse: %w", err)
	}

	cfg.Logger.WithFields(logrus.Fields{
		"addr":     cfg.ClickHouseAddr,
		"database": cfg.ClickHouseDatabase,
		"model":    cfg.Model,
	}).Info("initialized AI agent")

	a := newAgent(cfg.ClickHouseDatabase, cfg.Logger,
		func(ctx context.Context, prompt string) (string, error) {
			return llms.GenerateFromSinglePrompt(ctx, llm, prompt, llms.WithMaxTokens(512))
		},
		func(ctx context.Context, q string) ([]map[string]any, error) {
			return scanRows(ctx, db, q)
		},
	)
	a.db = db
	return a, nil
}

func newAgent(database string, logger *logrus.Logger, complete completeFunc, query queryFunc) *Agent {
	if logger == nil {
		logger = logrus.New()
	}
	return &Agent{complete: complete, query: query, database: database, logger: logger}
}

// Close closes the ClickHouse connection.
func (a *Agent) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Ask turns a question into SQL, runs it, and summarises the rows.
func (a *Agent) Ask(ctx context.Context, question string) (*AskResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}

	raw, err := a.complete(ctx, sqlPrompt(a.database, question))
	if err != nil {
		return nil, fmt.Errorf("generate sql: %w", err)
	}
	q := sanitizeSQL(raw)
	if err := validateSQL(q, a.database); err != nil {
		a.logger.WithField("sql", q).Warn("rejected generated sql")
		return nil, err
	}
	q = withRowLimit(q, maxRows)
	a.logger.WithField("sql", q).Debug("generated sql")

	rows, err := a.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}

	answer, err := a.complete(ctx, summaryPrompt(question, q, string(data)))
	if err != nil {
		return nil, fmt.Errorf("summarise: %w", err)
	}
	return &AskResult{SQL: q, Rows: len(rows), Answer: strings.TrimSpace(answer)}, nil
}

func sqlPrompt(database, question string) string {
	return fmt.Sprintf(`
You are an expert ClickHouse SQL generator for a KRC20 token swap order archive.

Use ONLY the following table:
%s

Rules:
- Return a single SELECT query in ClickHouse SQL, nothing else.
- The table is %s.%s.
- Tickers are case-sensitive, compare them exactly.
- Status values: %s.
- Use created_at for time filtering.
- Use aggregate functions like sum, avg, count when appropriate.
- For "top" or "biggest" questions use ORDER BY ... DESC and LIMIT.
- Never modify data.

User question:
%s
`, Schema(database), database, constants.ClickHouseOrdersTable, statusList(), question)
}

func summaryPrompt(question, query, rowsJSON string) string {
	return fmt.Sprintf(`
You are a helpful assistant analysing a KRC20 token swap order book.

User question:
%s

SQL that was executed:
%s

Query results in JSON (array of objects, can be empty):
%s

Instructions:
- If the result set is empty, say that no data was found for the question.
- Otherwise, answer concisely using bullet points and short sentences.
- Include key numbers (volumes, counts, rates) rounded reasonably.
- Do not restate the raw JSON.
`, question, query, rowsJSON)
}

func statusList() string {
	return strings.Join([]string{
		string(models.OrderStatusPending),
		string(models.OrderStatusMatched),
		string(models.OrderStatusCompleted),
		string(models.OrderStatusCancelled),
	}, ", ")
}

// scanRows runs q and returns at most maxRows rows keyed by column name.
func scanRows(ctx context.Context, db *sql.DB, q string) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	out := make([]map[string]any, 0)
	for rows.Next() && len(out) < maxRows {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

var (
	fenceRe     = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*(```.*)?$")
	writeRe     = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|TRUNCATE|CREATE|RENAME|ATTACH|DETACH|OPTIMIZE|GRANT|SYSTEM|KILL)\b`)
	sourceRe    = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([A-Za-z0-9_.]+)`)
	limitRe     = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)
	sqlPrefixRe = regexp.MustCompile(`(?i)^sql\s+`)
)

// sanitizeSQL strips code fences, a leading "sql" tag and trailing semicolons.
func sanitizeSQL(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = sqlPrefixRe.ReplaceAllString(strings.TrimSpace(s), "")
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ";")
	return strings.TrimSpace(s)
}

// validateSQL accepts a single read-only SELECT whose every source is the
// orders archive, bare or qualified with database.
func validateSQL(s, database string) error {
	if s == "" {
		return fmt.Errorf("%w: empty query", ErrUnsafeSQL)
	}
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return fmt.Errorf("%w: only SELECT is allowed, got %q", ErrUnsafeSQL, s[:prefixLen(s, 20)])
	}
	if strings.Contains(s, ";") {
		return fmt.Errorf("%w: multiple statements", ErrUnsafeSQL)
	}
	if kw := writeRe.FindString(s); kw != "" {
		return fmt.Errorf("%w: keyword %s", ErrUnsafeSQL, strings.ToUpper(kw))
	}

	table := constants.ClickHouseOrdersTable
	qualified := database + "." + table
	sources := sourceRe.FindAllStringSubmatch(s, -1)
	if len(sources) == 0 {
		return fmt.Errorf("%w: query must read %s", ErrUnsafeSQL, qualified)
	}
	for _, m := range sources {
		if !strings.EqualFold(m[1], table) && !strings.EqualFold(m[1], qualified) {
			return fmt.Errorf("%w: table %s is not allowed", ErrUnsafeSQL, m[1])
		}
	}
	return nil
}

// withRowLimit appends LIMIT n unless the query already limits itself.
func withRowLimit(q string, n int) string {
	if limitRe.MatchString(q) {
		return q
	}
	return fmt.Sprintf("%s LIMIT %d", q, n)
}

func prefixLen(s string, n int) int {
	if len(s) < n {
		return len(s)
	}
	return n
}
