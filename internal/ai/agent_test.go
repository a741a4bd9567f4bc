package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSQL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "SELECT 1 FROM swap_orders;", "SELECT 1 FROM swap_orders"},
		{"fenced", "```sql\nSELECT count() FROM swap_orders\n```", "SELECT count() FROM swap_orders"},
		{"bare fence", "```\nSELECT 1 FROM swap_orders\n```\nexplanation", "SELECT 1 FROM swap_orders"},
		{"sql prefix", "sql SELECT 1 FROM swap_orders", "SELECT 1 FROM swap_orders"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeSQL(tt.in))
		})
	}
}

func TestValidateSQL(t *testing.T) {
	ok := []string{
		"SELECT from_token, count() FROM swap_orders GROUP BY from_token",
		"select sum(from_amount) from krc20.swap_orders where status = 'completed'",
	}
	for _, q := range ok {
		assert.NoError(t, validateSQL(q, "krc20"), q)
	}

	bad := []string{
		"",
		"DELETE FROM swap_orders",
		"SELECT 1 FROM swap_orders; DROP TABLE swap_orders",
		"SELECT * FROM system.tables",
		"SELECT * FROM other.swap_orders",
		"SELECT 1 FROM swap_orders WHERE 1 IN (SELECT 1) UNION ALL SELECT 1 FROM (ALTER TABLE x)",
		"SELECT * FROM swap_orders JOIN system.users ON 1 = 1",
		"SHOW TABLES",
	}
	for _, q := range bad {
		assert.ErrorIs(t, validateSQL(q, "krc20"), ErrUnsafeSQL, q)
	}

	// column names containing write keywords are fine
	assert.NoError(t, validateSQL("SELECT max(updated_at), min(created_at) FROM swap_orders", "krc20"))
}

func TestWithRowLimit(t *testing.T) {
	assert.Equal(t, "SELECT 1 FROM swap_orders LIMIT 200", withRowLimit("SELECT 1 FROM swap_orders", 200))
	assert.Equal(t, "SELECT 1 FROM swap_orders limit 5", withRowLimit("SELECT 1 FROM swap_orders limit 5", 200))
}

func TestAsk(t *testing.T) {
	var prompts []string
	complete := func(_ context.Context, prompt string) (string, error) {
		prompts = append(prompts, prompt)
		if len(prompts) == 1 {
			return "```sql\nSELECT from_token, count() AS n FROM swap_orders GROUP BY from_token\n```", nil
		}
		return "  NACHO leads with 3 orders.  ", nil
	}
	var ran string
	query := func(_ context.Context, q string) ([]map[string]any, error) {
		ran = q
		return []map[string]any{{"from_token": "NACHO", "n": 3}}, nil
	}

	a := newAgent("krc20", nil, complete, query)
	res, err := a.Ask(context.Background(), "which token is sold most?")
	require.NoError(t, err)

	assert.Equal(t, "SELECT from_token, count() AS n FROM swap_orders GROUP BY from_token LIMIT 200", res.SQL)
	assert.Equal(t, res.SQL, ran)
	assert.Equal(t, 1, res.Rows)
	assert.Equal(t, "NACHO leads with 3 orders.", res.Answer)

	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0], "krc20.swap_orders")
	assert.Contains(t, prompts[0], "cancelled")
	assert.Contains(t, prompts[1], `"from_token":"NACHO"`)
}

func TestAsk_RejectsUnsafeSQLBeforeQuerying(t *testing.T) {
	complete := func(context.Context, string) (string, error) {
		return "DROP TABLE swap_orders", nil
	}
	queried := false
	query := func(context.Context, string) ([]map[string]any, error) {
		queried = true
		return nil, nil
	}

	_, err := newAgent("krc20", nil, complete, query).Ask(context.Background(), "clean up")
	assert.ErrorIs(t, err, ErrUnsafeSQL)
	assert.False(t, queried)
}

func TestAsk_Errors(t *testing.T) {
	boom := errors.New("boom")
	okSQL := func(context.Context, string) (string, error) { return "SELECT count() FROM swap_orders", nil }

	a := newAgent("krc20", nil, okSQL, func(context.Context, string) ([]map[string]any, error) { return nil, boom })
	_, err := a.Ask(context.Background(), "how many?")
	assert.ErrorIs(t, err, boom)

	_, err = a.Ask(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "question"))
}

func TestSchemaNamesDatabase(t *testing.T) {
	s := Schema("analytics")
	assert.Contains(t, s, "Database: analytics")
	assert.Contains(t, s, "matched_with")
}

func TestNewAgent_RequiresAPIKey(t *testing.T) {
	_, err := NewAgent(context.Background(), AgentConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENROUTER_API_KEY")
}
