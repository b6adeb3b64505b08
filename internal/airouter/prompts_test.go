package airouter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAnalysis_PlainJSON(t *testing.T) {
	t.Parallel()

	raw := `{"title":"T","summary":"A summary.","tags":["Go"," go ","","Search"],"key_points":["p1"],"entities":["ACME"],"sentiment":" Neutral "}`

	got, err := ParseAnalysis(raw)
	require.NoError(t, err)
	require.Equal(t, "T", got.Title)
	require.Equal(t, "A summary.", got.Summary)
	require.Equal(t, []string{"go", "search"}, got.Tags)
	require.Equal(t, "neutral", got.Sentiment)
}

func TestParseAnalysis_FencedJSON(t *testing.T) {
	t.Parallel()

	raw := "```json\n{\"summary\":\"ok\",\"tags\":[\"a\"]}\n```"

	got, err := ParseAnalysis(raw)
	require.NoError(t, err)
	require.Equal(t, "ok", got.Summary)
}

func TestParseAnalysis_RejectsMissingSummary(t *testing.T) {
	t.Parallel()

	_, err := ParseAnalysis(`{"title":"only a title"}`)
	require.Error(t, err)
}

func TestParseAnalysis_RejectsMalformed(t *testing.T) {
	t.Parallel()

	_, err := ParseAnalysis("not json at all")
	require.Error(t, err)
}
