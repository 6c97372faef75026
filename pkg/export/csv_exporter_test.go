package export

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVRenderWithSummary(t *testing.T) {
	e := NewCSVExporter()
	data := Dataset{
		Headers: []string{"Position", "Answer"},
		Rows: []map[string]string{
			{"Position": "1", "Answer": "42"},
		},
	}

	out, err := e.Render(data, []string{"Session: s1", "Score: 1 / 1"})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Session: s1", lines[0])
	assert.Equal(t, "Score: 1 / 1", lines[1])
	assert.Equal(t, "", lines[2])
	assert.Equal(t, "Position,Answer", lines[3])
	assert.Equal(t, "1,42", lines[4])
}

func TestCSVRenderWithoutSummary(t *testing.T) {
	e := NewCSVExporter()
	data := Dataset{Headers: []string{"Position"}}

	out, err := e.Render(data, nil)
	require.NoError(t, err)
	assert.Equal(t, "Position\n", string(out))
}

func TestCSVRenderRequiresHeaders(t *testing.T) {
	e := NewCSVExporter()

	_, err := e.Render(Dataset{}, nil)
	require.Error(t, err)
}
