package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer(Config{ServiceName: "walk-tracker", Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	assert.NoError(t, shutdown(context.Background()))
}

func TestTracer(t *testing.T) {
	_, span := Tracer().Start(context.Background(), "test")
	defer span.End()

	assert.NotNil(t, span)
}
