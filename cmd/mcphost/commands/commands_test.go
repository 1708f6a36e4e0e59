package commands

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProblemsFlattensJoins(t *testing.T) {
	a, b, c := errors.New("a"), errors.New("b"), errors.New("c")
	assert.Nil(t, problems(nil))
	assert.Equal(t, []error{a}, problems(a))
	assert.Equal(t, []error{a, b, c}, problems(errors.Join(errors.Join(a, b), nil, c)))

	wrapped := fmt.Errorf("load: %w", a)
	assert.Equal(t, []error{wrapped}, problems(wrapped))
}

func TestCallArguments(t *testing.T) {
	raw, err := callArguments([]string{"srv", "tool"})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))

	raw, err = callArguments([]string{"srv", "tool", `{"n": 1}`})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n": 1}`, string(raw))

	_, err = callArguments([]string{"srv", "tool", `{"n": `})
	assert.ErrorContains(t, err, "not valid JSON")
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "first", firstLine("  first\nsecond"))
	long := strings.Repeat("é", 100)
	got := firstLine(long)
	assert.Equal(t, 80, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestMasked(t *testing.T) {
	assert.Nil(t, masked(nil))
	in := map[string]string{"TOKEN": "s3cret"}
	assert.Equal(t, map[string]string{"TOKEN": "****"}, masked(in))
	assert.Equal(t, "s3cret", in["TOKEN"], "input is not modified")
}

func TestRootCommandTree(t *testing.T) {
	names := make([]string, 0)
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"servers", "tools", "call", "serve", "debug"})

	cmd, _, err := rootCmd.Find([]string{"debug", "paths"})
	require.NoError(t, err)
	assert.Equal(t, "paths", cmd.Name())
}
