package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/pribylovaa/estate-session/internal/clients/backend"
	"github.com/pribylovaa/estate-session/internal/metrics"
	"github.com/pribylovaa/estate-session/internal/models"
	"github.com/pribylovaa/estate-session/internal/pkg/log"
	"github.com/pribylovaa/estate-session/internal/pkg/redact"
	"github.com/pribylovaa/estate-session/internal/storage/memory"
	"github.com/pribylovaa/estate-session/internal/tokens"
	"github.com/pribylovaa/estate-session/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// capHandler — slog.Handler, пишущий записи в общий журнал capLog
// (в том числе из логгеров, полученных через With).
type capHandler struct {
	log  *capLog
	base []slog.Attr
}

type capLog struct {
	mu   sync.Mutex
	recs []capRecord
}

type capRecord struct {
	msg   string
	attrs map[string]any
}

func (h *capHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capHandler) Handle(_ context.Context, r slog.Record) error {
	out := make(map[string]any, len(h.base)+8)
	for _, a := range h.base {
		out[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value.Any()
		return true
	})

	h.log.mu.Lock()
	defer h.log.mu.Unlock()
	h.log.recs = append(h.log.recs, capRecord{msg: r.Message, attrs: out})
	return nil
}

func (h *capHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &capHandler{log: h.log, base: append(append([]slog.Attr{}, h.base...), attrs...)}
}

func (h *capHandler) WithGroup(string) slog.Handler { return h }

func (l *capLog) all() []capRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]capRecord(nil), l.recs...)
}

func newService(t *testing.T, cfg Config) (*Service, *tokens.Store, *mocks.MockBackend) {
	t.Helper()

	ctrl := gomock.NewController(t)
	be := mocks.NewMockBackend(ctrl)
	store := tokens.New(memory.New(), tokens.Options{})
	return New(store, be, cfg), store, be
}

func rejected(status int) error {
	return fmt.Errorf("clients.backend.Refresh: %w", &backend.StatusError{StatusCode: status, Message: "nope"})
}

func transport() error {
	return fmt.Errorf("clients.backend.Refresh: %w: dial tcp: connection refused", backend.ErrTransport)
}

// Refresh без сохранённого refresh-токена: ErrNoRefreshToken, хранилище пустое, backend не вызывается.
func TestRefresh_NoRefreshToken(t *testing.T) {
	svc, store, _ := newService(t, Config{})

	_, err := svc.Refresh(context.Background())
	require.ErrorIs(t, err, ErrNoRefreshToken)
	require.True(t, store.Pair().Empty())
}

func TestRefresh_Success_RotatesPair(t *testing.T) {
	svc, store, be := newService(t, Config{})
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "A1", "R1"))

	be.EXPECT().Refresh(gomock.Any(), "R1").
		Return(models.TokenPair{AccessToken: "A2", RefreshToken: "R2"}, nil)

	access, err := svc.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, "A2", access)
	require.Equal(t, "A2", store.AccessToken())
	require.Equal(t, "R2", store.RefreshToken())
}

func TestRefresh_Rejected_ClearsTokens(t *testing.T) {
	for _, keep := range []bool{false, true} {
		keep := keep
		t.Run(fmt.Sprintf("keep_on_transport=%v", keep), func(t *testing.T) {
			svc, store, be := newService(t, Config{KeepTokensOnTransportError: keep})
			ctx := context.Background()
			require.NoError(t, store.Set(ctx, "A1", "R1"))

			be.EXPECT().Refresh(gomock.Any(), "R1").Return(models.TokenPair{}, rejected(http.StatusUnauthorized))

			_, err := svc.Refresh(ctx)
			require.ErrorIs(t, err, ErrRefreshRejected)
			require.ErrorIs(t, err, backend.ErrRejected)
			require.True(t, store.Pair().Empty())
		})
	}
}

func TestRefresh_Transport(t *testing.T) {
	tests := []struct {
		name      string
		keep      bool
		wantEmpty bool
	}{
		{"clears_by_default", false, true},
		{"keeps_when_configured", true, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			svc, store, be := newService(t, Config{KeepTokensOnTransportError: tt.keep})
			ctx := context.Background()
			require.NoError(t, store.Set(ctx, "A1", "R1"))

			be.EXPECT().Refresh(gomock.Any(), "R1").Return(models.TokenPair{}, transport())

			_, err := svc.Refresh(ctx)
			require.ErrorIs(t, err, ErrTransport)
			require.NotErrorIs(t, err, ErrRefreshRejected)
			require.Equal(t, tt.wantEmpty, store.Pair().Empty())
		})
	}
}

// Конкурентные вызовы разделяют один обмен: backend видит R1 ровно один раз.
func TestRefresh_SingleFlight(t *testing.T) {
	svc, store, be := newService(t, Config{})
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "A1", "R1"))

	entered := make(chan struct{})
	release := make(chan struct{})

	be.EXPECT().Refresh(gomock.Any(), "R1").
		DoAndReturn(func(context.Context, string) (models.TokenPair, error) {
			close(entered)
			<-release
			return models.TokenPair{AccessToken: "A2", RefreshToken: "R2"}, nil
		}).
		Times(1)

	const callers = 5
	results := make(chan error, callers)
	tokensCh := make(chan string, callers)

	call := func() {
		access, err := svc.Refresh(ctx)
		tokensCh <- access
		results <- err
	}

	go call()
	<-entered

	var ready sync.WaitGroup
	for i := 1; i < callers; i++ {
		ready.Add(1)
		go func() {
			ready.Done()
			call()
		}()
	}
	ready.Wait()
	// Даём догоняющим дойти до singleflight, пока обмен висит.
	time.Sleep(50 * time.Millisecond)
	close(release)

	for i := 0; i < callers; i++ {
		require.NoError(t, <-results)
		require.Equal(t, "A2", <-tokensCh)
	}
	require.Equal(t, models.TokenPair{AccessToken: "A2", RefreshToken: "R2"}, store.Pair())
}

// Выход во время обмена: поздний результат отбрасывается, хранилище остаётся пустым.
func TestRefresh_LateResultAfterLogout_Discarded(t *testing.T) {
	svc, store, be := newService(t, Config{})
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "A1", "R1"))

	entered := make(chan struct{})
	release := make(chan struct{})
	be.EXPECT().Refresh(gomock.Any(), "R1").
		DoAndReturn(func(context.Context, string) (models.TokenPair, error) {
			close(entered)
			<-release
			return models.TokenPair{AccessToken: "A2", RefreshToken: "R2"}, nil
		})

	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(ctx)
		errCh <- err
	}()

	<-entered
	require.NoError(t, store.Clear(ctx))
	close(release)

	require.ErrorIs(t, <-errCh, ErrSessionChanged)
	require.True(t, store.Pair().Empty())
}

// Повторный вход во время обмена: ни успех, ни отказ старого обмена не трогают новую сессию.
func TestRefresh_LateOutcomeAfterRelogin_KeepsNewSession(t *testing.T) {
	tests := []struct {
		name    string
		pair    models.TokenPair
		err     error
		wantErr error
	}{
		{"late_success", models.TokenPair{AccessToken: "A2", RefreshToken: "R2"}, nil, ErrSessionChanged},
		{"late_rejection", models.TokenPair{}, rejected(http.StatusUnauthorized), ErrRefreshRejected},
		{"late_transport", models.TokenPair{}, transport(), ErrTransport},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			svc, store, be := newService(t, Config{})
			ctx := context.Background()
			require.NoError(t, store.Set(ctx, "A1", "R1"))

			entered := make(chan struct{})
			release := make(chan struct{})
			be.EXPECT().Refresh(gomock.Any(), "R1").
				DoAndReturn(func(context.Context, string) (models.TokenPair, error) {
					close(entered)
					<-release
					return tt.pair, tt.err
				})

			errCh := make(chan error, 1)
			go func() {
				_, err := svc.Refresh(ctx)
				errCh <- err
			}()

			<-entered
			require.NoError(t, store.Set(ctx, "A9", "R9"))
			close(release)

			require.ErrorIs(t, <-errCh, tt.wantErr)
			require.Equal(t, models.TokenPair{AccessToken: "A9", RefreshToken: "R9"}, store.Pair())
		})
	}
}

// Отмена ctx освобождает вызывающего, но обмен доводится до конца.
func TestRefresh_CallerCancel_ExchangeCompletes(t *testing.T) {
	svc, store, be := newService(t, Config{})
	require.NoError(t, store.Set(context.Background(), "A1", "R1"))

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	be.EXPECT().Refresh(gomock.Any(), "R1").
		DoAndReturn(func(ctx context.Context, _ string) (models.TokenPair, error) {
			defer close(done)
			close(entered)
			<-release
			require.NoError(t, ctx.Err())
			return models.TokenPair{AccessToken: "A2", RefreshToken: "R2"}, nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(ctx)
		errCh <- err
	}()

	<-entered
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	<-done
	require.Eventually(t, func() bool { return store.AccessToken() == "A2" }, time.Second, 5*time.Millisecond)
}

func TestRefresh_MetricsAndNoTokenInLogs(t *testing.T) {
	svc, store, be := newService(t, Config{})
	m := metrics.New(nil)
	svc.SetMetrics(m)

	journal := &capLog{}
	ctx := log.Into(context.Background(), slog.New(&capHandler{log: journal}))
	require.NoError(t, store.Set(ctx, "A1", "secret-refresh-R1"))

	be.EXPECT().Refresh(gomock.Any(), "secret-refresh-R1").
		Return(models.TokenPair{AccessToken: "A2", RefreshToken: "secret-refresh-R2"}, nil)

	_, err := svc.Refresh(ctx)
	require.NoError(t, err)

	require.Equal(t, 1.0, testutil.ToFloat64(m.RefreshTotal.WithLabelValues(refreshOK)))

	var seen bool
	for _, r := range journal.all() {
		if r.msg == "token_refreshed" {
			seen = true
		}
		for _, v := range r.attrs {
			require.False(t, strings.Contains(fmt.Sprint(v), "secret-refresh"), "token leaked in %q", r.msg)
		}
	}
	require.True(t, seen)
}

// Логи backend-клиента во время обмена несут отпечаток отправленного refresh-токена.
func TestRefresh_BackendLogsCarryRedactedRefresh(t *testing.T) {
	svc, store, be := newService(t, Config{})

	journal := &capLog{}
	ctx := log.Into(context.Background(), slog.New(&capHandler{log: journal}))
	require.NoError(t, store.Set(ctx, "A1", "R1"))

	be.EXPECT().Refresh(gomock.Any(), "R1").
		DoAndReturn(func(ctx context.Context, _ string) (models.TokenPair, error) {
			log.From(ctx).Info("backend_call")
			return models.TokenPair{AccessToken: "A2", RefreshToken: "R2"}, nil
		})

	_, err := svc.Refresh(ctx)
	require.NoError(t, err)

	var found bool
	for _, r := range journal.all() {
		if r.msg == "backend_call" {
			found = true
			require.Equal(t, redact.Token("R1"), r.attrs["refresh"])
		}
	}
	require.True(t, found)
}

func TestSignIn(t *testing.T) {
	user := models.User{ID: "u1", Name: "Ann", Email: "ann@example.com"}

	t.Run("ok_stores_pair", func(t *testing.T) {
		svc, store, be := newService(t, Config{})
		be.EXPECT().SignIn(gomock.Any(), "ann@example.com", "pw").
			Return(models.SignInResult{User: user, Pair: models.TokenPair{AccessToken: "A1", RefreshToken: "R1"}}, nil)

		got, err := svc.SignIn(context.Background(), "ann@example.com", "pw")
		require.NoError(t, err)
		require.Equal(t, user, got)
		require.Equal(t, models.TokenPair{AccessToken: "A1", RefreshToken: "R1"}, store.Pair())
	})

	t.Run("rejected_is_invalid_credentials", func(t *testing.T) {
		svc, store, be := newService(t, Config{})
		be.EXPECT().SignIn(gomock.Any(), "ann@example.com", "bad").
			Return(models.SignInResult{}, &backend.StatusError{StatusCode: http.StatusUnauthorized, Message: "wrong password"})

		_, err := svc.SignIn(context.Background(), "ann@example.com", "bad")
		require.ErrorIs(t, err, ErrInvalidCredentials)

		var se *backend.StatusError
		require.True(t, errors.As(err, &se))
		require.Equal(t, "wrong password", se.Message)
		require.True(t, store.Pair().Empty())
	})

	t.Run("server_error_is_not_credentials", func(t *testing.T) {
		svc, _, be := newService(t, Config{})
		be.EXPECT().SignIn(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(models.SignInResult{}, &backend.StatusError{StatusCode: http.StatusBadGateway})

		_, err := svc.SignIn(context.Background(), "ann@example.com", "pw")
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("empty_input_skips_backend", func(t *testing.T) {
		svc, _, _ := newService(t, Config{})

		_, err := svc.SignIn(context.Background(), "  ", "pw")
		require.ErrorIs(t, err, ErrInvalidCredentials)
		_, err = svc.SignIn(context.Background(), "ann", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestIsAdmin(t *testing.T) {
	t.Run("admin", func(t *testing.T) {
		svc, store, be := newService(t, Config{})
		require.NoError(t, store.Set(context.Background(), "A1", "R1"))
		be.EXPECT().IsAdmin(gomock.Any(), "A1").Return(true, nil)

		ok, err := svc.IsAdmin(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("error_keeps_tokens", func(t *testing.T) {
		svc, store, be := newService(t, Config{})
		require.NoError(t, store.Set(context.Background(), "A1", "R1"))
		be.EXPECT().IsAdmin(gomock.Any(), "A1").Return(false, backend.ErrTransport)

		ok, err := svc.IsAdmin(context.Background())
		require.ErrorIs(t, err, ErrAdminCheck)
		require.False(t, ok)
		require.Equal(t, "A1", store.AccessToken())
	})

	t.Run("no_access_token", func(t *testing.T) {
		svc, _, _ := newService(t, Config{})

		ok, err := svc.IsAdmin(context.Background())
		require.ErrorIs(t, err, ErrAdminCheck)
		require.False(t, ok)
	})
}

func TestRedactIdentifier(t *testing.T) {
	t.Parallel()

	require.Equal(t, "an***@example.com", redactIdentifier("anna@example.com"))
	require.Equal(t, "***4567", redactIdentifier("+71234567"))
	require.Equal(t, "***", redactIdentifier("123"))
}
