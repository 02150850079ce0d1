package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// Provider はIDプロバイダ1つのJWKS取得先を表す。
type Provider struct {
	// ID はプロバイダの識別子（例: "keycloak"）。
	ID string
	// JwksURL は公開鍵セット（JWKS）の取得先URL。
	JwksURL string
}

// KeySet はプロバイダ1つ分のキャッシュ済み署名鍵セットを表す。
type KeySet struct {
	// ProviderID は鍵セットの取得元プロバイダの識別子。
	ProviderID string
	// Keys はキーID（kid）とRSA公開鍵のマップ。
	Keys map[string]*rsa.PublicKey
	// FetchedAt は鍵セットを取得した日時。
	FetchedAt time.Time
}

// jwksResponse はJWKSエンドポイントのレスポンス。
type jwksResponse struct {
	// Keys はJWK形式の鍵のリスト。
	Keys []jwkEntry `json:"keys"`
}

// jwkEntry はJWK形式の鍵1つを表す。RSA鍵のみ使用する。
type jwkEntry struct {
	// Kty は鍵の種類（"RSA"のみ対応）。
	Kty string `json:"kty"`
	// Kid はキーID。トークンヘッダーのkidと照合する。
	Kid string `json:"kid"`
	// Use は鍵の用途。署名用（"sig"）または未指定のみ使用する。
	Use string `json:"use"`
	// N はRSAモジュラス（base64url）。
	N string `json:"n"`
	// E はRSA公開指数（base64url）。
	E string `json:"e"`
}

// JwksCache は複数プロバイダの署名鍵セットをTTL付きでキャッシュする。
// 再取得に失敗した場合、最後に成功した鍵セットをフォールバックとして
// 返し続ける。一度も取得できていないプロバイダは鍵を提供しない。
type JwksCache struct {
	// providers は設定された全プロバイダのリスト。検証時の試行順を保持する。
	providers []Provider
	// ttl は鍵セットの有効期間。
	ttl time.Duration
	// httpClient はJWKS取得用のHTTPクライアント。
	httpClient *http.Client
	// mu はsetsへの並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// sets はプロバイダIDとキャッシュ済み鍵セットのマップ。
	sets map[string]*KeySet
}

// NewJwksCache は新しいJWKSキャッシュを生成する。
func NewJwksCache(providers []Provider, ttl time.Duration) *JwksCache {
	return &JwksCache{
		providers: providers,
		ttl:       ttl,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		sets: make(map[string]*KeySet),
	}
}

// Providers は設定された全プロバイダのリストを返す。
func (c *JwksCache) Providers() []Provider {
	return c.providers
}

// GetWithFallback は指定プロバイダの署名鍵セットを返す。
// キャッシュがTTL内であればそのまま返し、期限切れの場合は再取得を試みる。
// 再取得に失敗した場合、最後に成功した鍵セットがあれば警告ログとともに
// それを返す。一度も取得できていない場合はnilを返す（このリクエストでは
// 当該プロバイダは鍵を提供しない）。
func (c *JwksCache) GetWithFallback(ctx context.Context, providerID string) *KeySet {
	var provider *Provider
	for i := range c.providers {
		if c.providers[i].ID == providerID {
			provider = &c.providers[i]
			break
		}
	}
	if provider == nil {
		return nil
	}

	c.mu.Lock()
	cached := c.sets[providerID]
	c.mu.Unlock()

	if cached != nil && time.Since(cached.FetchedAt) < c.ttl {
		return cached
	}

	fetched, err := c.fetch(ctx, *provider)
	if err != nil {
		if cached != nil {
			log.Printf("JwksCache: JWKSの再取得に失敗したため前回の鍵セットを使用します: provider=%s, err=%v",
				providerID, err)
			return cached
		}
		log.Printf("JwksCache: JWKSの取得に失敗し、フォールバック可能な鍵セットもありません: provider=%s, err=%v",
			providerID, err)
		return nil
	}

	c.mu.Lock()
	c.sets[providerID] = fetched
	c.mu.Unlock()
	return fetched
}

// fetch はプロバイダのJWKSエンドポイントから鍵セットを取得する。
func (c *JwksCache) fetch(ctx context.Context, provider Provider) (*KeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.JwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("JWKSリクエストの作成に失敗: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("JWKSの取得に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKSエンドポイントがエラーを返却: status=%d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("JWKSレスポンスの読み取りに失敗: %w", err)
	}

	var jwks jwksResponse
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, fmt.Errorf("JWKSレスポンスの解析に失敗: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, entry := range jwks.Keys {
		if entry.Kty != "RSA" || (entry.Use != "" && entry.Use != "sig") {
			continue
		}
		key, err := parseRSAKey(entry)
		if err != nil {
			log.Printf("JwksCache: JWK鍵の解析に失敗したためスキップします: provider=%s, kid=%s, err=%v",
				provider.ID, entry.Kid, err)
			continue
		}
		keys[entry.Kid] = key
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("使用可能なRSA署名鍵がJWKSに含まれていない: provider=%s", provider.ID)
	}

	log.Printf("JwksCache: JWKSを取得しました: provider=%s, keys=%d", provider.ID, len(keys))
	return &KeySet{
		ProviderID: provider.ID,
		Keys:       keys,
		FetchedAt:  time.Now(),
	}, nil
}

// parseRSAKey はJWK形式のRSA鍵をrsa.PublicKeyに変換する。
func parseRSAKey(entry jwkEntry) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(entry.N)
	if err != nil {
		return nil, fmt.Errorf("モジュラス(n)のデコードに失敗: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(entry.E)
	if err != nil {
		return nil, fmt.Errorf("公開指数(e)のデコードに失敗: %w", err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e <= 0 {
		return nil, fmt.Errorf("公開指数(e)が不正")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
