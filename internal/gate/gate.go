// gate — охрана защищённых экранов.
//
// Каждая навигация на защищённый путь проходит через конечный автомат:
//
//	Loading → Unauthenticated | Unauthorized | Authorized
//
// Для путей под admin-префиксом выполняется асинхронный admin-check, пока он идёт,
// навигация находится в состоянии Loading. Ошибка admin-check трактуется как
// «не администратор». Без аутентификации admin-check не выполняется вовсе.
package gate

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	apierrors "github.com/pribylovaa/estate-session/internal/errors"
	"github.com/pribylovaa/estate-session/internal/metrics"
	"github.com/pribylovaa/estate-session/internal/pkg/log"
)

// Параметры запроса, по которым главная страница открывает окно входа.
const (
	ParamLogin = "login"
	ParamNext  = "next"
)

// State — состояние навигации.
type State int

const (
	Loading State = iota
	Unauthenticated
	Unauthorized
	Authorized
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Unauthenticated:
		return "unauthenticated"
	case Unauthorized:
		return "unauthorized"
	case Authorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Authenticator сообщает, есть ли аутентифицированный пользователь.
type Authenticator interface {
	IsAuthenticated() bool
}

// AdminChecker выполняет admin-check текущего пользователя.
type AdminChecker interface {
	IsAdmin(ctx context.Context) (bool, error)
}

// Options — параметры гейта. Пустые пути получают значения по умолчанию.
type Options struct {
	AdminPrefix string // по умолчанию "/admin"
	HomePath    string // по умолчанию "/"
	Metrics     *metrics.Metrics
}

// Decision — итог навигации.
// RedirectTo пуст только для Authorized.
type Decision struct {
	State      State
	RedirectTo string
	ShowLogin  bool   // главная должна открыть окно входа
	Next       string // куда вернуть пользователя после входа
}

// Gate вычисляет решения для защищённых навигаций.
type Gate struct {
	auth        Authenticator
	admin       AdminChecker
	adminPrefix string
	home        string
	metrics     *metrics.Metrics
}

// New создаёт гейт.
func New(auth Authenticator, admin AdminChecker, opts Options) *Gate {
	g := &Gate{
		auth:        auth,
		admin:       admin,
		adminPrefix: strings.TrimRight(opts.AdminPrefix, "/"),
		home:        opts.HomePath,
		metrics:     opts.Metrics,
	}

	if g.adminPrefix == "" {
		g.adminPrefix = "/admin"
	}
	if g.home == "" {
		g.home = "/"
	}

	return g
}

// IsAdminPath: путь совпадает с admin-префиксом или лежит под ним.
// "/administrator" под "/admin" не попадает.
func (g *Gate) IsAdminPath(target string) bool {
	p := pathOf(target)
	return p == g.adminPrefix || strings.HasPrefix(p, g.adminPrefix+"/")
}

// Navigation — одна навигация на защищённый путь.
type Navigation struct {
	target   string
	done     chan struct{}
	decision Decision // записывается до close(done)
}

// State возвращает Loading, пока решение не принято.
func (n *Navigation) State() State {
	select {
	case <-n.done:
		return n.decision.State
	default:
		return Loading
	}
}

// Wait блокируется до решения или отмены ctx.
func (n *Navigation) Wait(ctx context.Context) (Decision, error) {
	select {
	case <-n.done:
		return n.decision, nil
	case <-ctx.Done():
		return Decision{State: Loading}, ctx.Err()
	}
}

func (n *Navigation) resolve(d Decision) {
	n.decision = d
	close(n.done)
}

// Navigate начинает навигацию на target (путь, возможно с query).
// Для обычных путей решение принимается синхронно. Для admin-путей
// admin-check идёт в фоне с ctx вызывающего: отмена ctx даёт ошибку
// проверки и, значит, отказ.
func (g *Gate) Navigate(ctx context.Context, target string) *Navigation {
	const op = "gate.Navigate"

	n := &Navigation{target: target, done: make(chan struct{})}

	if !g.IsAdminPath(target) || !g.auth.IsAuthenticated() {
		g.finish(ctx, n, false)
		return n
	}

	go func() {
		isAdmin, err := g.admin.IsAdmin(ctx)
		if err != nil {
			log.From(ctx).Warn("gate_admin_check_failed",
				slog.String("op", op),
				slog.String("path", pathOf(target)),
				slog.String("err", err.Error()),
			)
			isAdmin = false
		}
		g.finish(ctx, n, isAdmin)
	}()

	return n
}

func (g *Gate) finish(ctx context.Context, n *Navigation, isAdmin bool) {
	d := g.decide(n.target, isAdmin)
	g.metrics.GateDecision(d.State.String())

	log.From(ctx).Debug("gate_decision",
		slog.String("op", "gate.finish"),
		slog.String("path", pathOf(n.target)),
		slog.String("state", d.State.String()),
	)

	n.resolve(d)
}

// decide повторно проверяет аутентификацию: за время admin-check пользователь мог выйти.
func (g *Gate) decide(target string, isAdmin bool) Decision {
	if !g.auth.IsAuthenticated() {
		q := url.Values{}
		q.Set(ParamLogin, "1")
		q.Set(ParamNext, target)

		return Decision{
			State:      Unauthenticated,
			RedirectTo: g.home + "?" + q.Encode(),
			ShowLogin:  true,
			Next:       target,
		}
	}

	if g.IsAdminPath(target) && !isAdmin {
		return Decision{State: Unauthorized, RedirectTo: g.home}
	}

	return Decision{State: Authorized}
}

// Middleware пропускает запрос к next только при Authorized,
// иначе отвечает 302 на Decision.RedirectTo.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := g.Navigate(r.Context(), r.URL.RequestURI()).Wait(r.Context())
		if err != nil {
			apierrors.WriteError(w, r, err)
			return
		}

		if d.State != Authorized {
			http.Redirect(w, r, d.RedirectTo, http.StatusFound)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func pathOf(target string) string {
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		return target[:i]
	}
	return target
}
