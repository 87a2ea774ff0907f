package thinking

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedAll runs chunks through one filter and returns the concatenated clean
// and thinking outputs including the final flush.
func feedAll(t *testing.T, chunks []string) (string, string) {
	t.Helper()
	f := NewFilter()
	var clean, thought string
	for _, chunk := range chunks {
		c, th := f.Feed(chunk)
		clean += c
		thought += th
	}
	c, th := f.Flush()
	return clean + c, thought + th
}

func TestFilterSplitTag(t *testing.T) {
	clean, thought := feedAll(t, []string{"A<thi", "nk>B</thi", "nk>C"})
	assert.Equal(t, "AC", clean)
	assert.Equal(t, "B", thought)
}

func TestFilterNonTagPassesThrough(t *testing.T) {
	clean, thought := feedAll(t, []string{"<notthink>hi"})
	assert.Equal(t, "<notthink>hi", clean)
	assert.Empty(t, thought)
}

func TestFilterUnterminatedBlock(t *testing.T) {
	clean, thought := feedAll(t, []string{"x<think>y"})
	assert.Equal(t, "x", clean)
	assert.Equal(t, "y", thought)
}

func TestFilterCases(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		clean   string
		thought string
	}{
		{"plain text", "hello world", "hello world", ""},
		{"single block", "A<think>B</think>C", "AC", "B"},
		{"block first", "<think>plan</think>answer", "answer", "plan"},
		{"multiple blocks", "a<think>1</think>b<think>2</think>c", "abc", "12"},
		{"empty block", "a<think></think>b", "ab", ""},
		{"uppercase not matched", "a<Think>b</Think>c", "a<Think>b</Think>c", ""},
		{"whitespace not matched", "a< think>b</think>c", "a< think>b</think>c", ""},
		{"double open bracket", "<<think>x</think>", "<", "x"},
		{"partial open at eof", "abc<think", "abc<think", ""},
		{"partial close at eof", "<think>x</thi", "", "x</thi"},
		{"false close inside", "<think>a<b</think>c", "c", "a<b"},
		{"close without open", "a</think>b", "a</think>b", ""},
		{"angle only", "<", "<", ""},
		{"unicode survives", "héllo<think>wörld</think>日本", "héllo日本", "wörld"},
		{"tag straddling brackets", "<t<think>x</think>", "<t", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clean, thought := Strip(tt.input)
			assert.Equal(t, tt.clean, clean, "clean output")
			assert.Equal(t, tt.thought, thought, "thinking output")
		})
	}
}

func TestFilterRechunkingInvariance(t *testing.T) {
	inputs := []string{
		"A<think>B</think>C",
		"no tags at all, just text with < and > sprinkled in",
		"<think>only thinking</think>",
		"a<think>1</think>b<think>2</think>c<think>3",
		"<notthink>almost</notthink><think>real</think>",
		"edge<think>false</close</think>end",
		"héllo<think>wörld</think>日本語のテキスト",
	}

	rng := rand.New(rand.NewSource(42))
	for _, input := range inputs {
		wantClean, wantThought := Strip(input)

		for trial := 0; trial < 50; trial++ {
			var chunks []string
			rest := input
			for len(rest) > 0 {
				n := 1 + rng.Intn(len(rest))
				chunks = append(chunks, rest[:n])
				rest = rest[n:]
			}

			gotClean, gotThought := feedAll(t, chunks)
			require.Equal(t, wantClean, gotClean, "clean mismatch for %q split %q", input, chunks)
			require.Equal(t, wantThought, gotThought, "thinking mismatch for %q split %q", input, chunks)
		}
	}
}

func TestFilterOutputNeverLongerThanInput(t *testing.T) {
	inputs := []string{
		"",
		"<",
		"<think>",
		"</think>",
		"a<think>bb</think>ccc",
		"<think><think></think>",
	}
	for _, input := range inputs {
		clean, _ := Strip(input)
		assert.LessOrEqual(t, len(clean), len(input), "input %q", input)
	}
}

func TestFilterInsideThinking(t *testing.T) {
	f := NewFilter()
	f.Feed("a<think>b")
	assert.True(t, f.InsideThinking())
	f.Feed("</think>")
	assert.False(t, f.InsideThinking())
}

func TestFilterStateResetAfterFlush(t *testing.T) {
	f := NewFilter()
	f.Feed("<think>dangling")
	f.Flush()

	clean, thought := f.Feed("plain")
	assert.Equal(t, "plain", clean)
	assert.Empty(t, thought)
}
