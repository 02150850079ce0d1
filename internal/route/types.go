package route

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Definition はコレクション1つに対応するルート定義を表す。
type Definition struct {
	// ID はルートの一意識別子。コレクションIDと同一。
	ID string
	// Path はリクエストのマッチングに使用するパスパターン（例: "/api/orders/**"）。
	Path string
	// BackendURL は転送先バックエンドサービスのベースURL。
	BackendURL string
	// CollectionName はコレクション名。JSON:APIのリソースタイプに対応する。
	CollectionName string
	// RateLimit はルート単位のレートリミット設定。nilの場合は制限なし。
	RateLimit *RateLimitConfig
}

// HasRateLimit はルートにレートリミット設定があるかどうかを返す。
func (d *Definition) HasRateLimit() bool {
	return d.RateLimit != nil
}

// RateLimitConfig はルート単位のレートリミット設定を表す。
type RateLimitConfig struct {
	// RequestsPerWindow はウィンドウあたりの許可リクエスト数。
	RequestsPerWindow int64
	// WindowDuration はウィンドウの長さ。
	WindowDuration time.Duration
}

// ParseISO8601Duration はISO-8601形式の期間文字列（例: "PT1M"、"PT30S"、"P1D"）を
// time.Durationに変換する。コントロールプレーンはウィンドウ長をこの形式で配信する。
func ParseISO8601Duration(s string) (time.Duration, error) {
	if s == "" || s[0] != 'P' {
		return 0, fmt.Errorf("ISO-8601期間の形式が不正: %q", s)
	}

	rest := s[1:]
	var total time.Duration
	inTime := false

	for len(rest) > 0 {
		if rest[0] == 'T' {
			inTime = true
			rest = rest[1:]
			continue
		}

		i := 0
		for i < len(rest) && (rest[i] >= '0' && rest[i] <= '9' || rest[i] == '.') {
			i++
		}
		if i == 0 || i == len(rest) {
			return 0, fmt.Errorf("ISO-8601期間の形式が不正: %q", s)
		}

		value, err := strconv.ParseFloat(rest[:i], 64)
		if err != nil {
			return 0, fmt.Errorf("ISO-8601期間の数値が不正: %q", s)
		}

		unit := rest[i]
		rest = rest[i+1:]

		switch {
		case unit == 'D' && !inTime:
			total += time.Duration(value * float64(24*time.Hour))
		case unit == 'H' && inTime:
			total += time.Duration(value * float64(time.Hour))
		case unit == 'M' && inTime:
			total += time.Duration(value * float64(time.Minute))
		case unit == 'S' && inTime:
			total += time.Duration(value * float64(time.Second))
		default:
			return 0, fmt.Errorf("ISO-8601期間の単位が不正: %q (%c)", s, unit)
		}
	}

	if total <= 0 {
		return 0, fmt.Errorf("ISO-8601期間が正の値でない: %q", s)
	}
	return total, nil
}

// NormalizePath はコレクションのパスをワイルドカード付きのパターンに正規化する。
// 既にワイルドカードで終わっている場合はそのまま返す。
func NormalizePath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasSuffix(path, "/**") || strings.HasSuffix(path, "/*") {
		return path
	}
	return strings.TrimSuffix(path, "/") + "/**"
}
