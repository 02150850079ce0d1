package authz

import (
	"log"

	"github.com/nao1215/metahub/pkg/jsonapi"
)

// FilterDocument はJSON:APIドキュメントから呼び出しロールで閲覧できない
// 属性を除去する。プライマリリソース（data）とincluded内のすべてのリソースに
// 同一のルールを適用する。フィールドポリシーはリソースタイプ（コレクション名）
// 単位で解決され、ポリシーのないフィールドはすべての認証済み呼び出しに見える。
func FilterDocument(cache *Cache, doc *jsonapi.Document, roles []string) {
	if doc == nil {
		return
	}

	removed := 0
	for _, resource := range doc.Data() {
		removed += filterResource(cache, resource, roles)
	}
	for _, resource := range doc.Included {
		removed += filterResource(cache, resource, roles)
	}

	if removed > 0 {
		log.Printf("FieldAuthz: %d件の属性をレスポンスから除去しました", removed)
	}
}

// filterResource は1つのリソースオブジェクトからロール不足の属性を除去し、
// 除去した属性数を返す。
func filterResource(cache *Cache, resource *jsonapi.ResourceObject, roles []string) int {
	if resource == nil || len(resource.Attributes) == 0 {
		return 0
	}

	cfg, ok := cache.GetByCollectionName(resource.Type)
	if !ok || len(cfg.FieldPolicies) == 0 {
		return 0
	}

	removed := 0
	for _, policy := range cfg.FieldPolicies {
		if _, exists := resource.Attributes[policy.Field]; !exists {
			continue
		}
		if hasAnyRole(roles, policy.Roles) {
			continue
		}
		delete(resource.Attributes, policy.Field)
		removed++
	}
	return removed
}
