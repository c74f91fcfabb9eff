package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/saficlean/marketplace/internal/app/domain/user"
	"github.com/saficlean/marketplace/internal/app/services/auth"
	"github.com/saficlean/marketplace/internal/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LogLevel = "error"
	cfg.Auth.SecretKey = "test-secret"
	cfg.Auth.AccessTokenMinutes = 30
	cfg.Auth.RefreshTokenDays = 7
	cfg.Auth.RateLimitPerSecond = 100
	cfg.Auth.RateLimitBurst = 100
	cfg.Auth.AllowedOrigins = "*"
	cfg.Business.HoursStart = 8
	cfg.Business.HoursEnd = 18
	cfg.Business.Timezone = "Africa/Nairobi"
	cfg.Business.RatePerMin = 4.5
	return cfg
}

func TestNewAssemblesApplication(t *testing.T) {
	application, err := New(Options{Config: testConfig()})
	require.NoError(t, err)
	require.NotNil(t, application.Router)
	require.NotNil(t, application.Manager)
	require.NotNil(t, application.Metrics)
	require.NotNil(t, application.Services.Auth)
	require.NotNil(t, application.Services.Jobs)
	require.NotNil(t, application.Services.Tracking)
	require.NotNil(t, application.Services.Hub)
}

func TestManagerStartStop(t *testing.T) {
	application, err := New(Options{Config: testConfig()})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, application.Manager.Start(ctx))
	require.NoError(t, application.Manager.Stop(ctx))
}

// Default stores must share one backing store so an account registered via
// the auth service is visible to every other service.
func TestDefaultStoresAreShared(t *testing.T) {
	application, err := New(Options{Config: testConfig()})
	require.NoError(t, err)

	ctx := context.Background()
	created, err := application.Services.Auth.Register(ctx, auth.RegisterInput{
		Email:    "client@example.com",
		Password: "password123",
		FullName: "Test Client",
		Type:     user.TypeClient,
	})
	require.NoError(t, err)

	_, err = application.Services.Notifications.List(ctx, created.ID, false)
	require.NoError(t, err)
}
