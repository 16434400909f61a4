package logging_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/civicsignal/permitpipe/internal/logging"
)

func TestNew(t *testing.T) {
	t.Parallel()

	for _, development := range []bool{false, true} {
		logger, err := logging.New(development)
		require.NoError(t, err)
		require.NotNil(t, logger)
	}
}
