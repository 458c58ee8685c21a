package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracer_None(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "meter", ExporterNone, "", nil)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown()
}

func TestInitTracer_Stdout(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "meter", ExporterStdout, "", nil)
	require.NoError(t, err)
	shutdown()
}

func TestInitTracer_Unknown(t *testing.T) {
	_, err := InitTracer(context.Background(), "meter", "zipkin", "", nil)
	assert.ErrorContains(t, err, "unknown exporter")
}
