package authz

import (
	"fmt"
)

// AuthorizeRoute は指定されたHTTP操作を呼び出しロールで実行できるか判定する。
// 認可設定が存在しない、または操作に対するポリシーがない場合は許可する
// （ポリシーは加算的な制限であり、未設定は無制限を意味する）。
// ポリシーがある場合、必要なロールのいずれか1つを持っていれば許可する。
func AuthorizeRoute(cache *Cache, collectionID, collectionName, operation string, roles []string) error {
	cfg, ok := cache.Get(collectionID)
	if !ok {
		return nil
	}

	policy, ok := cfg.RoutePolicyFor(operation)
	if !ok {
		return nil
	}

	if hasAnyRole(roles, policy.Roles) {
		return nil
	}

	return fmt.Errorf("コレクション %q に対する %s 操作には次のいずれかのロールが必要: %v",
		collectionName, operation, policy.Roles)
}

// hasAnyRole は呼び出しロールに必要ロールのいずれかが含まれるかどうかを返す。
func hasAnyRole(callerRoles, requiredRoles []string) bool {
	if len(requiredRoles) == 0 {
		return false
	}
	required := make(map[string]struct{}, len(requiredRoles))
	for _, role := range requiredRoles {
		required[role] = struct{}{}
	}
	for _, role := range callerRoles {
		if _, ok := required[role]; ok {
			return true
		}
	}
	return false
}
