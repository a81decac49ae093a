package query

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	ev, err := NewEvaluator(Options{})
	require.NoError(t, err)
	t.Cleanup(ev.Close)
	return ev
}

func TestSearch_BooleanExpression(t *testing.T) {
	ev := newEvaluator(t)

	v, err := ev.Search(context.Background(), `resource.color == "green"`, map[string]any{
		"resource": map[string]any{"color": "green"},
	})
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestSearch_NonBooleanResultIsReturnedAsIs(t *testing.T) {
	ev := newEvaluator(t)

	v, err := ev.Search(context.Background(), `resource.color`, map[string]any{
		"resource": map[string]any{"color": "red"},
	})
	require.NoError(t, err)
	assert.Equal(t, "red", v)
}

func TestSearch_RuntimeErrorSurfaces(t *testing.T) {
	ev := newEvaluator(t)

	_, err := ev.Search(context.Background(), `missing.field`, map[string]any{})
	assert.Error(t, err)
}

func TestSearch_ExpressionTooLong(t *testing.T) {
	ev := newEvaluator(t)

	expr := "true || " + strings.Repeat("false || ", MaxExpressionLength/9) + "true"
	_, err := ev.Search(context.Background(), expr, map[string]any{})
	assert.ErrorIs(t, err, ErrExpressionTooLong)
}

func TestSearch_MatchesBuiltin(t *testing.T) {
	ev := newEvaluator(t)

	v, err := ev.Search(context.Background(), `matches(resource.name, "^doc-[0-9]+$")`, map[string]any{
		"resource": map[string]any{"name": "doc-42"},
	})
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = ev.Search(context.Background(), `matches(resource.name, "^doc-[0-9]+$")`, map[string]any{
		"resource": map[string]any{"name": "spreadsheet-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestSearch_MatchesRejectsOversizedPattern(t *testing.T) {
	ev := newEvaluator(t)

	pattern := strings.Repeat("a", MaxRegexPatternLength+1)
	_, err := ev.Search(context.Background(), `matches("x", pattern)`, map[string]any{
		"pattern": pattern,
	})
	assert.Error(t, err)
}

func TestSearch_CancelledContext(t *testing.T) {
	ev := newEvaluator(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ev.Search(ctx, "true", map[string]any{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearch_CompiledProgramsAreCachedAcrossCalls(t *testing.T) {
	ev := newEvaluator(t)
	ctx := context.Background()

	// same expression, different data: the cached program must not pin old values
	for _, want := range []string{"a", "b"} {
		v, err := ev.Search(ctx, `resource.owner`, map[string]any{
			"resource": map[string]any{"owner": want},
		})
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
}
