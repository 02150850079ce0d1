package auth

import (
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// roleExtractor はトークンのクレームからロール集合を抽出する関数。
// 形の異なるクレームレイアウトごとに独立した抽出関数を用意し、
// 結果をすべて和集合として合成する。
type roleExtractor func(claims jwt.MapClaims) []string

// defaultExtractors はロール抽出関数の適用順リストを返す。
// adminRoleClaimが空でない場合、そのクレームが真のときに
// adminRoleを付与する抽出関数を末尾に追加する。
func defaultExtractors(adminRoleClaim, adminRole string) []roleExtractor {
	extractors := []roleExtractor{
		extractRolesClaim,
		extractRealmAccessRoles,
		extractResourceAccessRoles,
		extractGroupsClaim,
		extractScopeClaim,
	}

	if adminRoleClaim != "" && adminRole != "" {
		extractors = append(extractors, func(claims jwt.MapClaims) []string {
			if enabled, ok := claims[adminRoleClaim].(bool); ok && enabled {
				return []string{adminRole}
			}
			return nil
		})
	}

	return extractors
}

// ExtractRoles はすべての抽出関数を順に適用し、結果の和集合を
// 重複なしのソート済みリストとして返す。
func ExtractRoles(claims jwt.MapClaims, extractors []roleExtractor) []string {
	seen := make(map[string]struct{})
	for _, extract := range extractors {
		for _, role := range extract(claims) {
			if role == "" {
				continue
			}
			seen[role] = struct{}{}
		}
	}

	roles := make([]string, 0, len(seen))
	for role := range seen {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// extractRolesClaim は直接の"roles"クレームからロールを抽出する。
// 文字列配列とカンマ区切り文字列の両方の形式に対応する。
func extractRolesClaim(claims jwt.MapClaims) []string {
	return stringsFromClaim(claims["roles"])
}

// extractRealmAccessRoles はKeycloak形式の"realm_access.roles"からロールを抽出する。
func extractRealmAccessRoles(claims jwt.MapClaims) []string {
	realmAccess, ok := claims["realm_access"].(map[string]any)
	if !ok {
		return nil
	}
	return stringsFromClaim(realmAccess["roles"])
}

// extractResourceAccessRoles はKeycloak形式の"resource_access.*.roles"から
// 全クライアントのロールを抽出する。
func extractResourceAccessRoles(claims jwt.MapClaims) []string {
	resourceAccess, ok := claims["resource_access"].(map[string]any)
	if !ok {
		return nil
	}

	var roles []string
	for _, clientValue := range resourceAccess {
		client, ok := clientValue.(map[string]any)
		if !ok {
			continue
		}
		roles = append(roles, stringsFromClaim(client["roles"])...)
	}
	return roles
}

// extractGroupsClaim は"groups"クレームからロールを抽出する。
func extractGroupsClaim(claims jwt.MapClaims) []string {
	return stringsFromClaim(claims["groups"])
}

// extractScopeClaim は空白区切りの"scope"クレームを抽出する。
// ロールクレームと区別するため "scope:" プレフィックスを付与する。
func extractScopeClaim(claims jwt.MapClaims) []string {
	scope, ok := claims["scope"].(string)
	if !ok || scope == "" {
		return nil
	}

	var roles []string
	for _, s := range strings.Fields(scope) {
		roles = append(roles, "scope:"+s)
	}
	return roles
}

// stringsFromClaim はクレーム値を文字列リストに変換する。
// 文字列配列とカンマ区切り文字列の両方の形式に対応する。
func stringsFromClaim(value any) []string {
	switch v := value.(type) {
	case []any:
		var result []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				result = append(result, s)
			}
		}
		return result
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		var result []string
		for _, s := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	default:
		return nil
	}
}
