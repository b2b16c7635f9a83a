package logger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astraldesk/securehttp/foundation/logger"
)

func TestNew(t *testing.T) {
	for _, env := range []string{"development", "debug", "production", ""} {
		l, err := logger.New("securehttp", env)
		require.NoError(t, err, "env %q", env)
		require.NotNil(t, l)
		l.Infow("logger smoke test", "env", env)
		l.SafeSync()
	}
}

func TestWith_ReturnsInterface(t *testing.T) {
	l := logger.Nop()
	child := l.With("component", "session")
	assert.NotNil(t, child)
	child.Debugw("child logger works")
}

func TestNop_DiscardsSafely(t *testing.T) {
	l := logger.Nop()
	l.Info("ignored")
	l.Warnf("ignored %d", 1)
	l.Errorw("ignored", "k", "v")
	l.SafeSync()
}

func TestSafeSync_NilReceiver(t *testing.T) {
	var l *logger.Logger
	assert.NotPanics(t, func() { l.SafeSync() })
}
