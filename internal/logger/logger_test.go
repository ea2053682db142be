package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestToZapLevel(t *testing.T) {
	assert.Equal(t, zapcore.InfoLevel, toZapLevel(InfoLevel))
	assert.Equal(t, zapcore.WarnLevel, toZapLevel(WarnLevel))
	assert.Equal(t, zapcore.ErrorLevel, toZapLevel(ErrorLevel))
	assert.Equal(t, zapcore.DebugLevel, toZapLevel("verbose"))
}

func TestNew(t *testing.T) {
	log := New(WarnLevel)
	assert.False(t, log.Desugar().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Desugar().Core().Enabled(zapcore.WarnLevel))
}
