package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nao1215/metahub/internal/route"
	"github.com/nao1215/metahub/pkg/cache"
)

// keyPrefix はレートリミットカウンタのキープレフィックス。
const keyPrefix = "ratelimit:"

// dailyKeyPrefix はテナント単位の日次APIコール数カウンタのキープレフィックス。
const dailyKeyPrefix = "api-calls-daily:"

// Result はレートリミット判定の結果を表す。
type Result struct {
	// Allowed はリクエストが許可されたかどうか。
	Allowed bool
	// Remaining はウィンドウ内の残り許可リクエスト数。
	Remaining int64
	// RetryAfter は拒否された場合にウィンドウが回復するまでの時間。
	RetryAfter time.Duration
}

// Limiter は共有カウンタによる固定ウィンドウ方式のレートリミッタ。
type Limiter struct {
	// store はカウンタを保持する共有ストア。
	store cache.Store
}

// NewLimiter は新しいレートリミッタを生成する。
func NewLimiter(store cache.Store) *Limiter {
	return &Limiter{store: store}
}

// Check はリクエストがレートリミット内かどうかを判定する。
//
// アルゴリズム:
//  1. キー "ratelimit:{routeId}:{principal}" のカウンタを1増やす
//  2. カウンタが1（ウィンドウ内の最初のリクエスト）ならTTLをウィンドウ長に設定する。
//     以降のリクエストはTTLをリセットしない
//  3. カウンタが上限を超えたら拒否し、RetryAfterに残りTTLを設定する
//
// 共有ストアの障害時はフェイルオープン（許可）し、警告ログを出力する。
func (l *Limiter) Check(ctx context.Context, routeID, principal string, config route.RateLimitConfig) Result {
	key := buildKey(routeID, principal)

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		log.Printf("RateLimiter: 共有ストアの障害のためリクエストを許可します: route=%s, principal=%s, err=%v",
			routeID, principal, err)
		return Result{Allowed: true, Remaining: config.RequestsPerWindow}
	}

	if count == 1 {
		if err := l.store.Expire(ctx, key, config.WindowDuration); err != nil {
			log.Printf("RateLimiter: ウィンドウTTLの設定に失敗: key=%s, err=%v", key, err)
		}
	}

	if count > config.RequestsPerWindow {
		retryAfter, err := l.store.TTL(ctx, key)
		if err != nil || retryAfter <= 0 {
			retryAfter = config.WindowDuration
		}
		return Result{Allowed: false, RetryAfter: retryAfter}
	}

	return Result{Allowed: true, Remaining: config.RequestsPerWindow - count}
}

// IncrementDailyCounter はテナント単位の日次APIコール数カウンタを1増やす。
// キーはUTC日付付き "api-calls-daily:{tenant}:{yyyy-mm-dd}" で、日付が変わった後の
// 掃除のため48時間のTTLを持つ。ベストエフォートであり、失敗してもリクエスト
// 処理には影響しない。
func (l *Limiter) IncrementDailyCounter(ctx context.Context, tenantID string) {
	if tenantID == "" {
		return
	}

	today := time.Now().UTC().Format("2006-01-02")
	key := dailyKeyPrefix + tenantID + ":" + today

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		log.Printf("RateLimiter: 日次カウンタの増加に失敗: tenant=%s, err=%v", tenantID, err)
		return
	}
	if count == 1 {
		if err := l.store.Expire(ctx, key, 48*time.Hour); err != nil {
			log.Printf("RateLimiter: 日次カウンタのTTL設定に失敗: key=%s, err=%v", key, err)
		}
	}
}

// buildKey はレートリミットカウンタのキーを構築する。
// 形式: "ratelimit:{routeId}:{principal}"
func buildKey(routeID, principal string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, routeID, principal)
}
