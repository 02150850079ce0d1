package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoMatchingKey は全プロバイダを試しても署名鍵が見つからなかったことを表す。
var ErrNoMatchingKey = errors.New("トークンに一致する署名鍵が見つかりません")

// Principal は認証済みの呼び出し元を表す。
type Principal struct {
	// Username は呼び出し元の識別名。preferred_usernameまたはsubクレーム由来。
	Username string
	// Roles は全抽出関数の結果を和集合としたロールのリスト。
	Roles []string
	// TenantID は呼び出し元のテナント識別子。tenant_idクレーム由来。
	TenantID string
	// Claims はトークンの全クレーム。
	Claims jwt.MapClaims
}

// Verifier は複数プロバイダの署名鍵でJWTを検証し、Principalを構築する。
type Verifier struct {
	// jwks は署名鍵の取得元キャッシュ。
	jwks *JwksCache
	// extractors はロール抽出関数の適用順リスト。
	extractors []roleExtractor
	// parser はJWTパーサー。RSA系アルゴリズムのみ許可する。
	parser *jwt.Parser
}

// NewVerifier は新しいVerifierを生成する。
// adminRoleClaimが空でない場合、そのブール型クレームが真のトークンに
// adminRoleを付与する。
func NewVerifier(jwks *JwksCache, adminRoleClaim, adminRole string) *Verifier {
	return &Verifier{
		jwks:       jwks,
		extractors: defaultExtractors(adminRoleClaim, adminRole),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify はBearerトークンを検証してPrincipalを返す。
// 署名の検証には全アクティブプロバイダの鍵セットの和を使用し、
// キーID（kid）が一致する鍵が見つかるまでプロバイダを順に試す。
// 署名不正・期限切れ・鍵なしはいずれもエラーとなり、呼び出し側で
// 401として扱われる。
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Principal, error) {
	claims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.findKey(ctx, t)
	})
	if err != nil {
		return nil, fmt.Errorf("トークンの検証に失敗: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("トークンが無効です")
	}

	username := stringClaim(claims, "preferred_username")
	if username == "" {
		username = stringClaim(claims, "sub")
	}
	if username == "" {
		return nil, errors.New("トークンにpreferred_usernameまたはsubクレームが必要です")
	}

	return &Principal{
		Username: username,
		Roles:    ExtractRoles(claims, v.extractors),
		TenantID: stringClaim(claims, "tenant_id"),
		Claims:   claims,
	}, nil
}

// findKey はトークンヘッダーのkidに一致するRSA公開鍵を全プロバイダから探す。
// kidがない場合は各プロバイダの全鍵を順に候補とする（最初の鍵を返す）。
func (v *Verifier) findKey(ctx context.Context, token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)

	for _, provider := range v.jwks.Providers() {
		set := v.jwks.GetWithFallback(ctx, provider.ID)
		if set == nil {
			continue
		}

		if kid != "" {
			if key, ok := set.Keys[kid]; ok {
				return key, nil
			}
			continue
		}

		// kidのないトークンは鍵が1つだけのプロバイダでのみ検証できる
		if len(set.Keys) == 1 {
			for _, key := range set.Keys {
				return key, nil
			}
		}
	}

	return nil, ErrNoMatchingKey
}

// stringClaim はクレームから文字列値を取得する。
func stringClaim(claims jwt.MapClaims, name string) string {
	if value, ok := claims[name].(string); ok {
		return value
	}
	return ""
}
