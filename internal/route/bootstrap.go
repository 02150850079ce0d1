package route

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nao1215/metahub/internal/authz"
	"github.com/nao1215/metahub/pkg/httpclient"
)

// bootstrapResponse はコントロールプレーンのブートストラップAPIのレスポンス。
type bootstrapResponse struct {
	// Collections は公開対象コレクションのリスト。
	Collections []bootstrapCollection `json:"collections"`
	// Authorization は認可ポリシーの初期データ。省略可能。
	Authorization *bootstrapAuthorization `json:"authorization"`
}

// bootstrapCollection はブートストラップレスポンス内のコレクション定義。
type bootstrapCollection struct {
	// ID はコレクションの一意識別子。
	ID string `json:"id"`
	// Name はコレクション名。
	Name string `json:"name"`
	// Path はコレクションが公開されるAPIパス。
	Path string `json:"path"`
	// BackendURL はコレクション固有のバックエンドURL。省略時は既定値を使用する。
	BackendURL string `json:"backendUrl"`
	// RateLimit はルート単位のレートリミット設定。省略可能。
	RateLimit *bootstrapRateLimit `json:"rateLimit"`
}

// bootstrapRateLimit はブートストラップレスポンス内のレートリミット設定。
type bootstrapRateLimit struct {
	// RequestsPerWindow はウィンドウあたりの許可リクエスト数。
	RequestsPerWindow int64 `json:"requestsPerWindow"`
	// WindowDuration はISO-8601形式のウィンドウ長（例: "PT1M"）。
	WindowDuration string `json:"windowDuration"`
}

// bootstrapAuthorization はブートストラップレスポンス内の認可データ。
type bootstrapAuthorization struct {
	// RoutePolicies は全コレクションのルートポリシーリスト。
	RoutePolicies []bootstrapRoutePolicy `json:"routePolicies"`
	// FieldPolicies は全コレクションのフィールドポリシーリスト。
	FieldPolicies []bootstrapFieldPolicy `json:"fieldPolicies"`
}

// bootstrapRoutePolicy はブートストラップレスポンス内のルートポリシー。
type bootstrapRoutePolicy struct {
	// CollectionID は対象コレクションの一意識別子。
	CollectionID string `json:"collectionId"`
	// CollectionName は対象コレクションの名前。
	CollectionName string `json:"collectionName"`
	// Operation は対象のHTTP操作。
	Operation string `json:"operation"`
	// PolicyID はポリシーの一意識別子。
	PolicyID string `json:"policyId"`
	// Roles は操作に必要なロールのリスト。
	Roles []string `json:"roles"`
}

// bootstrapFieldPolicy はブートストラップレスポンス内のフィールドポリシー。
type bootstrapFieldPolicy struct {
	// CollectionID は対象コレクションの一意識別子。
	CollectionID string `json:"collectionId"`
	// CollectionName は対象コレクションの名前。
	CollectionName string `json:"collectionName"`
	// Field は対象の属性名。
	Field string `json:"field"`
	// PolicyID はポリシーの一意識別子。
	PolicyID string `json:"policyId"`
	// Roles はフィールドの閲覧に必要なロールのリスト。
	Roles []string `json:"roles"`
}

// ConfigService はコントロールプレーンからルート・認可設定を取得して
// レジストリとキャッシュに反映するサービス。
type ConfigService struct {
	// client はコントロールプレーンとの通信用HTTPクライアント。
	client *httpclient.Client
	// bootstrapPath はブートストラップAPIのパス。
	bootstrapPath string
	// defaultBackendURL はコレクション固有のURLがない場合の転送先。
	defaultBackendURL string
	// registry は反映先のルートレジストリ。
	registry *Registry
	// authzCache は反映先の認可キャッシュ。
	authzCache *authz.Cache
}

// NewConfigService は新しいConfigServiceを生成する。
func NewConfigService(controlPlaneURL, bootstrapPath, defaultBackendURL string, registry *Registry, authzCache *authz.Cache) *ConfigService {
	return &ConfigService{
		client:            httpclient.New(controlPlaneURL),
		bootstrapPath:     bootstrapPath,
		defaultBackendURL: defaultBackendURL,
		registry:          registry,
		authzCache:        authzCache,
	}
}

// Refresh はブートストラップ設定を取得してレジストリと認可キャッシュを
// 一括置換する。取得や解析に失敗した場合、既存の状態は変更せずエラーを返す。
// 必須フィールド（id/name/path)が欠けたコレクションは警告ログとともに
// スキップされ、他のコレクションの反映は継続する。
func (s *ConfigService) Refresh(ctx context.Context) error {
	var response bootstrapResponse
	if err := s.client.GetJSON(ctx, s.bootstrapPath, &response); err != nil {
		return fmt.Errorf("ブートストラップ設定の取得に失敗: %w", err)
	}

	defs := make([]Definition, 0, len(response.Collections))
	skipped := 0
	for _, collection := range response.Collections {
		def, ok := s.parseCollection(collection)
		if !ok {
			skipped++
			continue
		}
		defs = append(defs, def)
	}

	// 完全に構築したセットで一括置換する。並行する読み取りが
	// 空のレジストリを観測することはない。
	s.registry.ReplaceAll(defs)
	log.Printf("ConfigService: ルートを更新しました: 有効=%d, スキップ=%d", len(defs), skipped)

	s.warmAuthzCache(response.Authorization)
	return nil
}

// RefreshWithRetry は初回成功までRefreshを繰り返すバックグラウンドループを開始する。
// 起動時にコントロールプレーンが未到達でもgateway自体は起動を継続できる。
func (s *ConfigService) RefreshWithRetry(ctx context.Context, interval time.Duration) {
	go func() {
		for {
			err := s.Refresh(ctx)
			if err == nil {
				return
			}
			log.Printf("ConfigService: ブートストラップ取得をリトライします: %v", err)

			select {
			case <-ctx.Done():
				log.Println("ConfigService: ブートストラップのリトライを停止しました")
				return
			case <-time.After(interval):
			}
		}
	}()
}

// parseCollection はブートストラップのコレクション定義をルート定義に変換する。
// 必須フィールドが欠けている場合はfalseを返す。
func (s *ConfigService) parseCollection(collection bootstrapCollection) (Definition, bool) {
	if collection.ID == "" || collection.Name == "" || collection.Path == "" {
		log.Printf("ConfigService: 必須フィールドが欠けたコレクションをスキップします: id=%q, name=%q, path=%q",
			collection.ID, collection.Name, collection.Path)
		return Definition{}, false
	}

	backendURL := collection.BackendURL
	if backendURL == "" {
		backendURL = s.defaultBackendURL
	}

	def := Definition{
		ID:             collection.ID,
		Path:           NormalizePath(collection.Path),
		BackendURL:     backendURL,
		CollectionName: collection.Name,
	}

	if collection.RateLimit != nil {
		window, err := ParseISO8601Duration(collection.RateLimit.WindowDuration)
		if err != nil || collection.RateLimit.RequestsPerWindow <= 0 {
			log.Printf("ConfigService: 不正なレートリミット設定を無視します: id=%s, err=%v", collection.ID, err)
		} else {
			def.RateLimit = &RateLimitConfig{
				RequestsPerWindow: collection.RateLimit.RequestsPerWindow,
				WindowDuration:    window,
			}
		}
	}

	return def, true
}

// warmAuthzCache はブートストラップの認可データで認可キャッシュを初期化する。
// イベント到着を待たずに起動直後から認可を適用できるようにする。
func (s *ConfigService) warmAuthzCache(authorization *bootstrapAuthorization) {
	if authorization == nil {
		log.Println("ConfigService: ブートストラップに認可データがないため、認可キャッシュの初期化をスキップします")
		return
	}

	configs := make(map[string]*authz.Config)
	ensure := func(collectionID, collectionName string) *authz.Config {
		cfg, ok := configs[collectionID]
		if !ok {
			cfg = &authz.Config{CollectionID: collectionID, CollectionName: collectionName}
			configs[collectionID] = cfg
		}
		if cfg.CollectionName == "" {
			cfg.CollectionName = collectionName
		}
		return cfg
	}

	for _, policy := range authorization.RoutePolicies {
		if policy.CollectionID == "" || policy.Operation == "" {
			continue
		}
		cfg := ensure(policy.CollectionID, policy.CollectionName)
		cfg.RoutePolicies = append(cfg.RoutePolicies, authz.RoutePolicy{
			Operation: policy.Operation,
			PolicyID:  policy.PolicyID,
			Roles:     policy.Roles,
		})
	}

	for _, policy := range authorization.FieldPolicies {
		if policy.CollectionID == "" || policy.Field == "" {
			continue
		}
		cfg := ensure(policy.CollectionID, policy.CollectionName)
		cfg.FieldPolicies = append(cfg.FieldPolicies, authz.FieldPolicy{
			Field:    policy.Field,
			PolicyID: policy.PolicyID,
			Roles:    policy.Roles,
		})
	}

	all := make([]authz.Config, 0, len(configs))
	for _, cfg := range configs {
		all = append(all, *cfg)
	}
	s.authzCache.ReplaceAll(all)
	log.Printf("ConfigService: %d件のコレクション認可設定を初期化しました", len(all))
}
