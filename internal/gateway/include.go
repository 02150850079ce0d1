package gateway

import (
	"context"
	"log"
	"strings"

	"github.com/nao1215/metahub/pkg/cache"
	"github.com/nao1215/metahub/pkg/jsonapi"
)

// includeKeyPrefix は共有キャッシュ内のリソースキーのプレフィックス。
// 形式: "jsonapi:{type}:{id}"
const includeKeyPrefix = "jsonapi:"

// IncludeResolver はincludeクエリパラメータで要求された関連リソースを
// 共有キャッシュから解決し、ドキュメントのincludedに追加する。
type IncludeResolver struct {
	// store は関連リソースを保持する共有キャッシュ。
	store cache.Store
}

// NewIncludeResolver は新しいIncludeResolverを生成する。
func NewIncludeResolver(store cache.Store) *IncludeResolver {
	return &IncludeResolver{store: store}
}

// Resolve はincludeパラメータ（カンマ区切りの関連名）をドキュメントに適用する。
//
// 各関連名は3段階でリレーションシップにマッチングされる:
//  1. リレーションシップキーとの完全一致
//  2. リレーションシップキーとの大文字小文字を無視した一致
//  3. リレーションシップが参照するリソースのtypeとの一致
//
// 解決したリソースは(type, id)で重複排除されincludedに追加される。
// キャッシュに存在しないリソースとキャッシュ障害は警告ログとともに
// 黙ってスキップされ、ドキュメント本体には影響しない。
func (r *IncludeResolver) Resolve(ctx context.Context, doc *jsonapi.Document, includeParam string) {
	names := parseIncludeParam(includeParam)
	if len(names) == 0 || !doc.HasData() {
		return
	}

	seen := make(map[string]struct{}, len(doc.Included))
	for _, resource := range doc.Included {
		seen[resource.Key()] = struct{}{}
	}

	for _, resource := range doc.Data() {
		for _, name := range names {
			rel := matchRelationship(resource, name)
			if rel == nil {
				continue
			}
			for _, identifier := range rel.Identifiers() {
				r.appendResource(ctx, doc, identifier, seen)
			}
		}
	}
}

// appendResource は参照先リソースをキャッシュから取得してincludedに追加する。
// 既に追加済みの参照は無視する。
func (r *IncludeResolver) appendResource(ctx context.Context, doc *jsonapi.Document, identifier *jsonapi.ResourceIdentifier, seen map[string]struct{}) {
	if identifier == nil || identifier.Type == "" || identifier.ID == "" {
		return
	}

	key := identifier.Type + ":" + identifier.ID
	if _, ok := seen[key]; ok {
		return
	}
	seen[key] = struct{}{}

	value, found, err := r.store.Get(ctx, includeKeyPrefix+key)
	if err != nil {
		log.Printf("IncludeResolver: キャッシュ取得に失敗したため関連リソースを省略します: key=%s, err=%v", key, err)
		return
	}
	if !found {
		return
	}

	resource, err := jsonapi.ParseResource(value)
	if err != nil {
		log.Printf("IncludeResolver: キャッシュ内の不正なリソースを省略します: key=%s, err=%v", key, err)
		return
	}

	doc.Included = append(doc.Included, resource)
}

// matchRelationship は関連名にマッチするリレーションシップを3段階で探す。
func matchRelationship(resource *jsonapi.ResourceObject, name string) *jsonapi.Relationship {
	if len(resource.Relationships) == 0 {
		return nil
	}

	// 第1段階: キーの完全一致
	if rel, ok := resource.Relationships[name]; ok {
		return rel
	}

	// 第2段階: キーの大文字小文字を無視した一致
	for key, rel := range resource.Relationships {
		if strings.EqualFold(key, name) {
			return rel
		}
	}

	// 第3段階: 参照先リソースのtypeとの一致
	for _, rel := range resource.Relationships {
		for _, identifier := range rel.Identifiers() {
			if identifier != nil && strings.EqualFold(identifier.Type, name) {
				return rel
			}
		}
	}

	return nil
}

// parseIncludeParam はカンマ区切りのincludeパラメータを関連名のリストに分解する。
// 空要素は無視し、ネストした関連パス（"a.b"）は先頭要素のみ使用する。
func parseIncludeParam(param string) []string {
	if param == "" {
		return nil
	}

	var names []string
	for _, part := range strings.Split(param, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if idx := strings.Index(name, "."); idx >= 0 {
			name = name[:idx]
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
