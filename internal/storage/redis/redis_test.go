package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/pribylovaa/estate-session/internal/storage"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Интеграционные тесты поднимают реальный Redis через testcontainers-go.
//
// Запуск:
//   GO_TEST_INTEGRATION=1 go test ./internal/storage/redis -v -race -count=1

func startRedis(t *testing.T) (*Storage, func()) {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "docker.io/library/redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	st, err := New(ctx, fmt.Sprintf("redis://%s:%s/0", host, port.Port()), "test:")
	require.NoError(t, err)

	return st, func() {
		_ = st.Close()
		_ = c.Terminate(context.Background())
	}
}

func TestIntegration_SetManyGetDelete(t *testing.T) {
	st, cleanup := startRedis(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, st.SetMany(ctx, map[string]string{
		storage.KeyAccessToken:  "a1",
		storage.KeyRefreshToken: "r1",
	}))

	got, err := st.Get(ctx, storage.KeyAccessToken)
	require.NoError(t, err)
	require.Equal(t, "a1", got)

	require.NoError(t, st.Delete(ctx, storage.KeyAccessToken, storage.KeyRefreshToken))

	_, err = st.Get(ctx, storage.KeyRefreshToken)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_PrefixIsolation(t *testing.T) {
	st, cleanup := startRedis(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, st.SetMany(ctx, map[string]string{"k": "v"}))

	raw, err := st.rdb.Get(ctx, "test:k").Result()
	require.NoError(t, err)
	require.Equal(t, "v", raw)
}

func TestNew_BadURL(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), "://bad", "")
	require.Error(t, err)
}
