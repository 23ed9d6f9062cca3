package openai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isNetworkError reports tokenizer download failures, which happen in
// sandboxed test environments.
func isNetworkError(err error) bool {
	msg := err.Error()
	for _, s := range []string{"dial tcp", "no such host", "connection refused", "i/o timeout", "network is unreachable"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func TestTiktokenCounter(t *testing.T) {
	c := NewTiktokenCounter("")
	assert.Equal(t, DefaultModel, c.model)

	n, err := c.CountTokens("Hello, world!")
	if err != nil && isNetworkError(err) {
		t.Skipf("tokenizer data unavailable: %v", err)
	}
	require.NoError(t, err)
	assert.Greater(t, n, 1)

	n, err = c.CountTokens("")
	require.NoError(t, err)
	assert.Zero(t, n)
}
