package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	SessionVerifier   middleware.SessionVerifier
	RefreshVerifier   middleware.RefreshVerifier
	Reissuer          middleware.SessionReissuer
	CookieSecret      []byte
	Collector         metrics.MetricsCollector
	Logger            *slog.Logger

	// 認証
	AuthService AuthServiceInterface
	Clearer     CredentialClearer

	// メトリクス公開
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORSMiddleware → SecurityHeaders → Logging → Recovery
//
// ガード（セッション・リフレッシュ）は必要なルートにのみ適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	r.Use(middleware.NewRecoveryMiddleware())

	authHandler := NewAuthHandler(deps.AuthService, deps.Clearer)

	sessionGuard := middleware.NewSessionGuard(deps.SessionVerifier, deps.Reissuer, deps.CookieSecret, deps.Collector)
	refreshGuard := middleware.NewRefreshGuard(deps.RefreshVerifier, deps.CookieSecret, deps.Collector)

	// ルート疎通確認
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// ヘルスチェック
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	// Prometheusスクレイプ
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/auth", func(r chi.Router) {
		// 認証前エンドポイント（IPごとのレート制限）
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.AuthMiddleware())
			}
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
		})

		// セッションが必要なエンドポイント
		r.With(sessionGuard).Get("/me", authHandler.Me)

		// リフレッシュトークンが必要なエンドポイント
		r.With(refreshGuard).Post("/refresh", authHandler.Refresh)

		// ログアウトはCookieを失効させるだけなのでガード不要
		r.Post("/logout", authHandler.Logout)
	})

	return r
}
