package route

import (
	"log"
	"strings"
	"sync"
)

// registryEntry は登録済みルートと登録順序を保持する内部レコード。
type registryEntry struct {
	// def はルート定義。
	def Definition
	// seq は登録順序。パターンの具体性が同じ場合のタイブレークに使用する。
	seq uint64
}

// Registry はパスパターンからルート定義を解決する並行安全なテーブル。
// 書き込みはブートストラップと設定変更イベントからのみ行われ、
// 読み取りは全リクエストで行われる。書き込みは完全なエントリ単位で
// 行われるため、読み取り側が中途半端な状態を観測することはない。
type Registry struct {
	// mu はentriesへの並行アクセスを保護するミューテックス。
	mu sync.RWMutex
	// entries はルートIDとエントリのマップ。
	entries map[string]registryEntry
	// nextSeq は次に割り当てる登録順序番号。
	nextSeq uint64
}

// NewRegistry は新しい空のレジストリを生成する。
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Add はルートをIDでアップサートする。同じIDのルートが存在する場合は置換する。
func (r *Registry) Add(def Definition) {
	if def.ID == "" || def.Path == "" {
		log.Printf("RouteRegistry: IDまたはパスが空のルートは登録できません: %+v", def)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[def.ID]; exists {
		log.Printf("RouteRegistry: ルートを更新しました: id=%s, path=%s", def.ID, def.Path)
	} else {
		log.Printf("RouteRegistry: ルートを追加しました: id=%s, path=%s", def.ID, def.Path)
	}
	r.entries[def.ID] = registryEntry{def: def, seq: r.nextSeq}
	r.nextSeq++
}

// Remove は指定IDのルートを削除する。存在しない場合は何もしない。
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		delete(r.entries, id)
		log.Printf("RouteRegistry: ルートを削除しました: id=%s", id)
	}
}

// ReplaceAll はレジストリの内容を指定されたルート群で一括置換する。
// ブートストラップの再取得時に使用する。置換はロック内で一度に行われるため、
// 並行する読み取りが空の状態を観測することはない。
func (r *Registry) ReplaceAll(defs []Definition) {
	entries := make(map[string]registryEntry, len(defs))
	var seq uint64
	for _, def := range defs {
		if def.ID == "" || def.Path == "" {
			continue
		}
		entries[def.ID] = registryEntry{def: def, seq: seq}
		seq++
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = entries
	r.nextSeq = seq
	log.Printf("RouteRegistry: %d件のルートで全置換しました", len(entries))
}

// Clear はすべてのルートを削除する。
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := len(r.entries)
	r.entries = make(map[string]registryEntry)
	log.Printf("RouteRegistry: %d件のルートをクリアしました", count)
}

// FindByPath はリクエストパスに最も具体的にマッチするルートを返す。
// 具体性はワイルドカード前のリテラルプレフィックスの長さで比較し、
// 同点の場合は後から登録されたルートが優先される。
func (r *Registry) FindByPath(path string) (Definition, bool) {
	if path == "" {
		return Definition{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best registryEntry
	bestScore := -1
	found := false

	for _, entry := range r.entries {
		if !matchPattern(entry.def.Path, path) {
			continue
		}
		score := len(literalPrefix(entry.def.Path))
		if score > bestScore || (score == bestScore && found && entry.seq > best.seq) {
			best = entry
			bestScore = score
			found = true
		}
	}

	return best.def, found
}

// Get は指定IDのルートを返す。
func (r *Registry) Get(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	return entry.def, ok
}

// FindByCollectionName は指定コレクション名のルートを返す。
// include解決でリソースタイプからバックエンドを特定するために使用する。
func (r *Registry) FindByCollectionName(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.entries {
		if entry.def.CollectionName == name {
			return entry.def, true
		}
	}
	return Definition{}, false
}

// All は登録済みルートの安定したスナップショットを返す。
func (r *Registry) All() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.entries))
	for _, entry := range r.entries {
		defs = append(defs, entry.def)
	}
	return defs
}

// Size は登録済みルート数を返す。
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// matchPattern はパスパターンがリクエストパスにマッチするかどうかを判定する。
// サポートするパターン:
//   - "/p/**" : "/p" 自身と "/p/" 以下のすべてのパス
//   - "/p/*"  : "/p/" 直下の1セグメントのみ
//   - それ以外: 完全一致
func matchPattern(pattern, path string) bool {
	if base, ok := strings.CutSuffix(pattern, "/**"); ok {
		return path == base || strings.HasPrefix(path, base+"/")
	}

	if base, ok := strings.CutSuffix(pattern, "/*"); ok {
		rest, found := strings.CutPrefix(path, base+"/")
		return found && rest != "" && !strings.Contains(rest, "/")
	}

	return pattern == path
}

// literalPrefix はパターンのワイルドカード前のリテラル部分を返す。
func literalPrefix(pattern string) string {
	if i := strings.Index(pattern, "*"); i >= 0 {
		return pattern[:i]
	}
	return pattern
}
