package logger

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	l, err := New("debug", "console")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = New("not-a-level", "json")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))
	assert.Equal(t, "abcdef", Truncate("abcdef", 0))
}

func TestTruncate_KeepsWholeCharacters(t *testing.T) {
	body := "x" + "خطأ في الخادم"
	for limit := 1; limit < len(body); limit++ {
		got := Truncate(body, limit)
		assert.True(t, utf8.ValidString(got), "limit %d produced %q", limit, got)
		assert.LessOrEqual(t, len(got), limit+len("..."))
	}
	assert.Equal(t, "x...", Truncate(body, 2))
}
