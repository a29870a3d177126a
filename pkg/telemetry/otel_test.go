package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetup_NoopWhenDisabledOrNoEndpoint(t *testing.T) {
	for _, cfg := range []Config{
		{},
		{Enabled: true},
		{Enabled: false, Endpoint: "http://localhost:4318"},
	} {
		shutdown, err := Setup(context.Background(), "dance-api", cfg)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, shutdown(ctx))
	}
}

func TestSetup_CreatesProviderWhenEnabled(t *testing.T) {
	// non-routable, nothing is exported
	shutdown, err := Setup(context.Background(), "dance-api", Config{Enabled: true, Endpoint: "http://192.0.2.1:4318"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
