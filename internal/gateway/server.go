package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	"github.com/nao1215/metahub/internal/auth"
	"github.com/nao1215/metahub/internal/authz"
	"github.com/nao1215/metahub/internal/listener"
	"github.com/nao1215/metahub/internal/ratelimit"
	"github.com/nao1215/metahub/internal/route"
	"github.com/nao1215/metahub/pkg/cache"
	"github.com/nao1215/metahub/pkg/httpclient"
	"github.com/nao1215/metahub/pkg/jsonapi"
	"github.com/nao1215/metahub/pkg/middleware"
)

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。監査ログの保存先。
	db *sql.DB
	// store はレートリミットカウンタと関連リソースを保持する共有キャッシュ。
	store cache.Store
	// registry はアクティブなルート定義のレジストリ。
	registry *route.Registry
	// authzCache はコレクション単位の認可設定キャッシュ。
	authzCache *authz.Cache
	// configService はコントロールプレーンからのブートストラップ取得サービス。
	configService *route.ConfigService
	// consumer は設定変更イベントのコンシューマ。
	consumer *listener.Consumer
	// verifier はJWT検証器。
	verifier *auth.Verifier
	// limiter は固定ウィンドウ方式のレートリミッタ。
	limiter *ratelimit.Limiter
	// includes は関連リソースのinclude解決器。
	includes *IncludeResolver
	// audit は適用済み設定イベントの監査ストア。
	audit *AuditStore
	// controlPlane はコントロールプレーンの到達性確認用クライアント。
	controlPlane *httpclient.Client
	// eventFeed はイベントフィードの到達性確認用クライアント。
	eventFeed *httpclient.Client
	// proxyClient はバックエンドへの転送用HTTPクライアント。
	proxyClient *http.Client
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(port string) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", getEnvOr("GATEWAY_DB", "/data/gateway.db?_journal_mode=WAL&_busy_timeout=5000"))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	var store cache.Store
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		store = cache.NewRedisStore(redisAddr, os.Getenv("REDIS_PASSWORD"))
	} else {
		log.Println("Server: REDIS_ADDRが未設定のためインメモリストアを使用します（単一インスタンス向け）")
		store = cache.NewMemoryStore()
	}

	providers, err := parseJwksProviders(os.Getenv("JWKS_PROVIDERS"))
	if err != nil {
		return nil, fmt.Errorf("JWKS_PROVIDERSの解析に失敗: %w", err)
	}
	if len(providers) == 0 {
		log.Println("Server: JWKS_PROVIDERSが未設定のため、すべてのトークン検証が失敗します")
	}

	jwksTTL := 5 * time.Minute
	if raw := os.Getenv("JWKS_CACHE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("JWKS_CACHE_TTLの解析に失敗: %w", err)
		}
		jwksTTL = ttl
	}

	controlPlaneURL := getEnvOr("CONTROL_PLANE_URL", "http://localhost:8090")
	eventFeedURL := getEnvOr("EVENT_FEED_URL", controlPlaneURL)
	backendURL := getEnvOr("BACKEND_URL", "http://localhost:8081")

	registry := route.NewRegistry()
	authzCache := authz.NewCache()
	audit := NewAuditStore(sqlDB)

	frontendURL := getEnvOr("FRONTEND_URL", "http://localhost:3000")

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.Correlation())
	router.Use(middleware.CORS([]string{frontendURL}))

	s := &Server{
		router:     router,
		port:       port,
		db:         sqlDB,
		store:      store,
		registry:   registry,
		authzCache: authzCache,
		configService: route.NewConfigService(
			controlPlaneURL,
			getEnvOr("BOOTSTRAP_PATH", "/api/v1/gateway/bootstrap"),
			backendURL,
			registry,
			authzCache,
		),
		consumer: listener.NewConsumer(
			eventFeedURL,
			backendURL,
			registry,
			authzCache,
			audit,
		),
		verifier: auth.NewVerifier(
			auth.NewJwksCache(providers, jwksTTL),
			getEnvOr("ADMIN_ROLE_CLAIM", "admin"),
			getEnvOr("ADMIN_ROLE", "admin"),
		),
		limiter:      ratelimit.NewLimiter(store),
		includes:     NewIncludeResolver(store),
		audit:        audit,
		controlPlane: httpclient.NewWithTimeout(controlPlaneURL, 2*time.Second),
		eventFeed:    httpclient.NewWithTimeout(eventFeedURL, 2*time.Second),
		proxyClient:  &http.Client{Timeout: 30 * time.Second},
	}
	s.setupRoutes()

	return s, nil
}

// Start はブートストラップ設定の取得と設定変更イベントの購読を開始する。
// コントロールプレーンが未到達でも起動は継続し、バックグラウンドで
// 初回成功までリトライする。
func (s *Server) Start(ctx context.Context) {
	if err := s.configService.Refresh(ctx); err != nil {
		log.Printf("Server: 初回ブートストラップに失敗したためバックグラウンドでリトライします: %v", err)
		s.configService.RefreshWithRetry(ctx, 5*time.Second)
	}
	s.consumer.Start(ctx)
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// Close はバックグラウンドプロセスを停止し、リソースを解放する。
func (s *Server) Close() error {
	s.consumer.Stop()
	return s.db.Close()
}

// setupRoutes はAPIルーティングを設定する。
// 固定エンドポイント以外のすべてのリクエストはゲートウェイパイプラインが処理する。
func (s *Server) setupRoutes() {
	// ヘルスチェック
	s.router.GET("/health", s.handleHealth())

	// 運用者向け: 適用済み設定イベントの監査ログ
	s.router.GET("/internal/config-events", s.handleListConfigEvents())

	// コレクションへのリクエストはルート定義に基づいて動的に処理する
	s.router.NoRoute(s.handleGatewayRequest())
}

// handleHealth はヘルスチェックハンドラを返す。
// 共有キャッシュ・データベース・コントロールプレーン・イベントフィードへの
// 到達性とロード済みルート数を報告する。依存先に到達できない場合は503を返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		check := func(err error) string {
			if err != nil {
				status = http.StatusServiceUnavailable
				return "unreachable"
			}
			return "ok"
		}

		cacheStatus := check(s.store.Ping(ctx))
		dbStatus := check(s.db.PingContext(ctx))
		controlPlaneStatus := check(s.controlPlane.Ping(ctx))
		eventFeedStatus := check(s.eventFeed.Ping(ctx))

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}

		c.JSON(status, gin.H{
			"status":       overall,
			"service":      "gateway",
			"cache":        cacheStatus,
			"db":           dbStatus,
			"controlPlane": controlPlaneStatus,
			"eventFeed":    eventFeedStatus,
			"routes":       s.registry.Size(),
		})
	}
}

// handleListConfigEvents は適用済み設定イベントの監査ログを返すハンドラを返す。
func (s *Server) handleListConfigEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit <= 0 {
			limit = 50
		}

		entries, err := s.audit.RecentEvents(c.Request.Context(), limit)
		if err != nil {
			log.Printf("Server: 監査ログの取得に失敗: %v", err)
			respondError(c, err)
			return
		}
		if entries == nil {
			entries = []AuditEntry{}
		}

		c.JSON(http.StatusOK, gin.H{"events": entries, "count": len(entries)})
	}
}

// handleGatewayRequest はゲートウェイパイプラインのハンドラを返す。
//
// パイプラインの処理順序:
//  1. ルートマッチング（失敗は404）
//  2. JWT認証（失敗は401）
//  3. レートリミット（超過は429）
//  4. ルート認可（失敗は403）
//  5. ヘッダー変換とバックエンドへのプロキシ
//  6. フィールドレベルの認可フィルタリング
//  7. 関連リソースのinclude解決
func (s *Server) handleGatewayRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path

		def, ok := s.registry.FindByPath(path)
		if !ok {
			respondError(c, &RouteNotFoundError{Path: path})
			return
		}

		principal, err := s.authenticate(c)
		if err != nil {
			respondError(c, err)
			return
		}

		if err := s.checkRateLimit(c, def, principal); err != nil {
			respondError(c, err)
			return
		}

		s.limiter.IncrementDailyCounter(c.Request.Context(), principal.TenantID)

		if err := authz.AuthorizeRoute(s.authzCache, def.ID, def.CollectionName, c.Request.Method, principal.Roles); err != nil {
			respondError(c, &AuthorizationError{Detail: err.Error()})
			return
		}

		s.proxy(c, def, principal)
	}
}

// authenticate はAuthorizationヘッダーのBearerトークンを検証する。
func (s *Server) authenticate(c *gin.Context) (*auth.Principal, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return nil, &AuthenticationError{Detail: "Authorizationヘッダーが必要です"}
	}

	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return nil, &AuthenticationError{Detail: "AuthorizationヘッダーはBearer形式である必要があります"}
	}

	principal, err := s.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		return nil, &AuthenticationError{Detail: "トークンの検証に失敗しました", Err: err}
	}
	return principal, nil
}

// checkRateLimit はルートにレートリミット設定がある場合に判定を行い、
// レートリミット関連のレスポンスヘッダーを設定する。
func (s *Server) checkRateLimit(c *gin.Context, def route.Definition, principal *auth.Principal) error {
	if !def.HasRateLimit() {
		return nil
	}

	result := s.limiter.Check(c.Request.Context(), def.ID, principal.Username, *def.RateLimit)
	c.Header("X-RateLimit-Limit", strconv.FormatInt(def.RateLimit.RequestsPerWindow, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))

	if !result.Allowed {
		return &RateLimitError{RetryAfter: result.RetryAfter}
	}
	return nil
}

// proxy はリクエストをバックエンドに転送し、レスポンスにフィールド認可
// フィルタとinclude解決を適用して返却する。
//
// ヘッダー変換: Authorizationは取り除き、検証済みのアイデンティティを
// X-Forwarded-User / X-Forwarded-Roles / X-Tenant-IDとして付与する。
// バックエンドはこれらのヘッダーを信頼でき、トークンの再検証は不要になる。
func (s *Server) proxy(c *gin.Context, def route.Definition, principal *auth.Principal) {
	proxyURL := def.BackendURL + c.Request.URL.Path
	if c.Request.URL.RawQuery != "" {
		proxyURL += "?" + c.Request.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, proxyURL, c.Request.Body)
	if err != nil {
		respondError(c, fmt.Errorf("プロキシリクエストの作成に失敗: %w", err))
		return
	}

	copyProxyHeaders(req, c)
	req.Header.Set("X-Forwarded-User", principal.Username)
	req.Header.Set("X-Forwarded-Roles", strings.Join(principal.Roles, ","))
	if principal.TenantID != "" {
		req.Header.Set("X-Tenant-ID", principal.TenantID)
	}
	req.Header.Set("X-Correlation-ID", middleware.GetCorrelationID(c))

	resp, err := s.proxyClient.Do(req)
	if err != nil {
		log.Printf("Server: バックエンドへの転送に失敗: url=%s, err=%v", proxyURL, err)
		respondError(c, fmt.Errorf("バックエンドとの通信に失敗: %w", err))
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		respondError(c, fmt.Errorf("バックエンドレスポンスの読み取りに失敗: %w", err))
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}

	// 成功したJSON:APIレスポンスのみ後段の変換対象。エラーレスポンスや
	// JSON:API以外のボディはそのまま転送する
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !isJSONAPIContent(contentType) {
		c.Data(resp.StatusCode, contentType, body)
		return
	}

	doc, err := jsonapi.Parse(body)
	if err != nil {
		respondError(c, err)
		return
	}

	authz.FilterDocument(s.authzCache, doc, principal.Roles)

	if includeParam := c.Query("include"); includeParam != "" {
		s.includes.Resolve(c.Request.Context(), doc, includeParam)
	}

	out, err := jsonapi.Serialize(doc)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(resp.StatusCode, contentType, out)
}

// strippedProxyHeaders は境界で取り除くリクエストヘッダー（正規化形式）。
// Authorizationは内側に漏らさず、アイデンティティヘッダーは呼び出し元の
// 値を信頼せず検証済みのトークンからのみ設定する。
var strippedProxyHeaders = map[string]struct{}{
	"Authorization":     {},
	"X-Forwarded-User":  {},
	"X-Forwarded-Roles": {},
	"X-Tenant-Id":       {},
}

// copyProxyHeaders は元のリクエストヘッダーをプロキシリクエストに転送する。
func copyProxyHeaders(req *http.Request, c *gin.Context) {
	for name, values := range c.Request.Header {
		if _, ok := strippedProxyHeaders[http.CanonicalHeaderKey(name)]; ok {
			continue
		}
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}
}

// isJSONAPIContent はContent-TypeがJSON:APIまたはJSONかどうかを判定する。
func isJSONAPIContent(contentType string) bool {
	return strings.HasPrefix(contentType, "application/vnd.api+json") ||
		strings.HasPrefix(contentType, "application/json")
}

// parseJwksProviders はJWKS_PROVIDERS環境変数を解析する。
// 形式: "providerId=jwksUrl,providerId2=jwksUrl2"
func parseJwksProviders(raw string) ([]auth.Provider, error) {
	if raw == "" {
		return nil, nil
	}

	var providers []auth.Provider
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, url, found := strings.Cut(entry, "=")
		if !found || id == "" || url == "" {
			return nil, fmt.Errorf("不正なプロバイダ定義: %q（形式: id=url）", entry)
		}
		providers = append(providers, auth.Provider{ID: id, JwksURL: url})
	}
	return providers, nil
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
