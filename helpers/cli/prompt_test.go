package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecAll(t *testing.T) {
	t.Parallel()

	var lines []string
	err := ExecAll(strings.NewReader("surge=1\n\n  reset \nsend"), func(line string) { lines = append(lines, line) })
	require.NoError(t, err)
	assert.Equal(t, []string{"surge=1", "reset", "send"}, lines)
}
