package authz

import (
	"log"
	"sync"
)

// RoutePolicy はHTTP操作1つに対する認可ルールを表す。
type RoutePolicy struct {
	// Operation は対象のHTTP操作（GET/POST/PUT/PATCH/DELETE）。
	Operation string
	// PolicyID はポリシーの一意識別子。
	PolicyID string
	// Roles は操作に必要なロールの集合。いずれか1つを持てば許可される。
	Roles []string
}

// FieldPolicy は属性1つに対する閲覧制限ルールを表す。
type FieldPolicy struct {
	// Field は対象の属性名。
	Field string
	// PolicyID はポリシーの一意識別子。
	PolicyID string
	// Roles はフィールドの閲覧に必要なロールの集合。
	Roles []string
}

// Config はコレクション1つの認可ポリシー一式を表す。
// RoutePoliciesとFieldPoliciesは常にセットで置換され、
// 古いルートポリシーと新しいフィールドポリシーが混在することはない。
type Config struct {
	// CollectionID は対象コレクションの一意識別子。
	CollectionID string
	// CollectionName は対象コレクションの名前。リソースタイプとの照合に使用する。
	CollectionName string
	// RoutePolicies はHTTP操作単位のポリシーリスト。
	RoutePolicies []RoutePolicy
	// FieldPolicies はフィールド単位のポリシーリスト。
	FieldPolicies []FieldPolicy
}

// RoutePolicyFor は指定されたHTTP操作に対するポリシーを返す。
func (c *Config) RoutePolicyFor(operation string) (RoutePolicy, bool) {
	for _, policy := range c.RoutePolicies {
		if policy.Operation == operation {
			return policy, true
		}
	}
	return RoutePolicy{}, false
}

// Cache はコレクションIDから認可ポリシーを解決する並行安全なテーブル。
type Cache struct {
	// mu はconfigsへの並行アクセスを保護するミューテックス。
	mu sync.RWMutex
	// configs はコレクションIDと認可設定のマップ。
	configs map[string]Config
	// byName はコレクション名からコレクションIDを引く索引。
	byName map[string]string
}

// NewCache は新しい空の認可キャッシュを生成する。
func NewCache() *Cache {
	return &Cache{
		configs: make(map[string]Config),
		byName:  make(map[string]string),
	}
}

// Get は指定コレクションIDの認可設定を返す。
func (c *Cache) Get(collectionID string) (Config, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cfg, ok := c.configs[collectionID]
	return cfg, ok
}

// GetByCollectionName は指定コレクション名の認可設定を返す。
// フィールド認可でJSON:APIリソースタイプから設定を引くために使用する。
func (c *Cache) GetByCollectionName(name string) (Config, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.byName[name]
	if !ok {
		return Config{}, false
	}
	cfg, ok := c.configs[id]
	return cfg, ok
}

// Update は指定コレクションIDの認可設定を全置換する。
// ルートポリシーとフィールドポリシーは常に一括で差し替えられる。
func (c *Cache) Update(collectionID string, cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if previous, ok := c.configs[collectionID]; ok && previous.CollectionName != cfg.CollectionName {
		delete(c.byName, previous.CollectionName)
	}
	c.configs[collectionID] = cfg
	if cfg.CollectionName != "" {
		c.byName[cfg.CollectionName] = collectionID
	}
	log.Printf("AuthzCache: 認可設定を更新しました: collectionId=%s, routePolicies=%d, fieldPolicies=%d",
		collectionID, len(cfg.RoutePolicies), len(cfg.FieldPolicies))
}

// Remove は指定コレクションIDの認可設定を削除する。
func (c *Cache) Remove(collectionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if previous, ok := c.configs[collectionID]; ok {
		delete(c.byName, previous.CollectionName)
		delete(c.configs, collectionID)
		log.Printf("AuthzCache: 認可設定を削除しました: collectionId=%s", collectionID)
	}
}

// ReplaceAll はキャッシュの内容を指定された設定群で一括置換する。
// ブートストラップの再取得時に使用する。
func (c *Cache) ReplaceAll(configs []Config) {
	next := make(map[string]Config, len(configs))
	byName := make(map[string]string, len(configs))
	for _, cfg := range configs {
		if cfg.CollectionID == "" {
			continue
		}
		next[cfg.CollectionID] = cfg
		if cfg.CollectionName != "" {
			byName[cfg.CollectionName] = cfg.CollectionID
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs = next
	c.byName = byName
	log.Printf("AuthzCache: %d件の認可設定で全置換しました", len(next))
}

// Size は登録済みの認可設定数を返す。
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.configs)
}
