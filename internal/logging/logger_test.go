package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Parallel()

	for name, development := range map[string]bool{"development": true, "production": false} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			logger, err := New(development)
			require.NoError(t, err)
			require.NotNil(t, logger)
			defer logger.Sync() //nolint:errcheck // stderr sync fails on some platforms

			require.Equal(t, development, logger.Core().Enabled(zapcore.DebugLevel))
			logger.Named("crawler").Info("logger ready", zap.String("job_id", "j1"))
		})
	}
}
