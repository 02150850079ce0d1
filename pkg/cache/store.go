package cache

import (
	"context"
	"time"
)

// Store は共有キャッシュ・共有カウンタへのアクセスを抽象化する。
// すべての操作は明示的なタイムアウトを持つコンテキストとともに呼び出すこと。
type Store interface {
	// Get はキーに対応する値を取得する。キーが存在しない場合は2番目の戻り値がfalse。
	Get(ctx context.Context, key string) (string, bool, error)
	// Set はキーに値を設定する。ttlが0より大きい場合は有効期限を設定する。
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Incr はキーのカウンタを1増やし、増加後の値を返す。キーが存在しない場合は1になる。
	Incr(ctx context.Context, key string) (int64, error)
	// Expire はキーに有効期限を設定する。
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL はキーの残り有効期限を返す。有効期限がない場合は0を返す。
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Ping はストアへの到達性を確認する。ヘルスチェックに使用する。
	Ping(ctx context.Context) error
}
