package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate_ProducesDistinctHexTokens(t *testing.T) {
	a := Generate()
	b := Generate()

	assert.Len(t, a, 32)
	assert.Len(t, b, 32)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, "^[0-9a-f]{32}$", a)
}
