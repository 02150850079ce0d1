package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/metahub/pkg/jsonapi"
	"github.com/nao1215/metahub/pkg/middleware"
)

// contentTypeJSONAPI はJSON:APIレスポンスのContent-Type。
const contentTypeJSONAPI = "application/vnd.api+json"

// AuthenticationError は認証失敗（401）を表す。
type AuthenticationError struct {
	// Detail はクライアントに返す詳細メッセージ。
	Detail string
	// Err は原因となったエラー。ログ出力にのみ使用する。
	Err error
}

// Error はエラーメッセージを返す。
func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.Err)
	}
	return e.Detail
}

// AuthorizationError は認可失敗（403）を表す。
type AuthorizationError struct {
	// Detail はクライアントに返す詳細メッセージ。操作とコレクション名を含む。
	Detail string
}

// Error はエラーメッセージを返す。
func (e *AuthorizationError) Error() string { return e.Detail }

// RateLimitError はレートリミット超過（429）を表す。
type RateLimitError struct {
	// RetryAfter はウィンドウが回復するまでの時間。Retry-Afterヘッダーに設定される。
	RetryAfter time.Duration
}

// Error はエラーメッセージを返す。
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("レートリミットを超過しました（%s後に再試行してください）", e.RetryAfter)
}

// RouteNotFoundError はマッチするルートがないこと（404）を表す。
type RouteNotFoundError struct {
	// Path はマッチしなかったリクエストパス。
	Path string
}

// Error はエラーメッセージを返す。
func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("パス %q にマッチするルートがありません", e.Path)
}

// respondError はエラーの種類をHTTPステータス・エラーコードにマッピングし、
// JSON:API形式のエラーレスポンスを書き込む。すべてのエラーボディは
// meta内にタイムスタンプ・パス・相関IDを含む。未分類のエラーは内部の詳細を
// 漏らさない一般的なメッセージの500になる。
func respondError(c *gin.Context, err error) {
	path := c.Request.URL.Path
	correlationID := middleware.GetCorrelationID(c)

	var status int
	var code, detail string

	var authnErr *AuthenticationError
	var authzErr *AuthorizationError
	var rateErr *RateLimitError
	var notFoundErr *RouteNotFoundError

	switch {
	case errors.As(err, &authnErr):
		status = http.StatusUnauthorized
		code = "UNAUTHORIZED"
		detail = authnErr.Detail
		log.Printf("GlobalErrorHandler: 認証エラー: path=%s, correlationId=%s, err=%v", path, correlationID, err)
	case errors.As(err, &authzErr):
		status = http.StatusForbidden
		code = "FORBIDDEN"
		detail = authzErr.Detail
		log.Printf("GlobalErrorHandler: 認可エラー: path=%s, correlationId=%s, err=%v", path, correlationID, err)
	case errors.As(err, &rateErr):
		status = http.StatusTooManyRequests
		code = "RATE_LIMIT_EXCEEDED"
		detail = "レートリミットを超過しました"
		retrySeconds := int64(rateErr.RetryAfter.Seconds())
		if retrySeconds < 1 {
			retrySeconds = 1
		}
		c.Header("Retry-After", strconv.FormatInt(retrySeconds, 10))
		log.Printf("GlobalErrorHandler: レートリミット超過: path=%s, correlationId=%s, retryAfter=%ds",
			path, correlationID, retrySeconds)
	case errors.As(err, &notFoundErr):
		status = http.StatusNotFound
		code = "NOT_FOUND"
		detail = notFoundErr.Error()
		log.Printf("GlobalErrorHandler: ルート未発見: path=%s, correlationId=%s", path, correlationID)
	case errors.Is(err, jsonapi.ErrParse):
		status = http.StatusInternalServerError
		code = "JSONAPI_PARSE_ERROR"
		detail = "JSON:APIレスポンスの処理に失敗しました"
		log.Printf("GlobalErrorHandler: JSON:API解析エラー: path=%s, correlationId=%s, err=%v", path, correlationID, err)
	default:
		status = http.StatusInternalServerError
		code = "INTERNAL_ERROR"
		detail = "予期しないエラーが発生しました"
		log.Printf("GlobalErrorHandler: 内部エラー: path=%s, correlationId=%s, err=%v", path, correlationID, err)
	}

	writeErrorBody(c, status, code, detail, path, correlationID)
}

// writeErrorBody はJSON:API形式のエラーボディを書き込む。
// 構造化エラーのシリアライズ自体に失敗した場合は、手組みの最小限の
// JSON:APIエラー文字列をフォールバックとして返す。
func writeErrorBody(c *gin.Context, status int, code, detail, path, correlationID string) {
	timestamp := time.Now().UTC().Format(time.RFC3339)

	doc := &jsonapi.Document{
		Errors: []*jsonapi.ErrorObject{{
			Status: strconv.Itoa(status),
			Code:   code,
			Detail: detail,
			Meta: map[string]any{
				"timestamp":     timestamp,
				"path":          path,
				"correlationId": correlationID,
			},
		}},
	}

	body, err := json.Marshal(doc)
	if err != nil {
		log.Printf("GlobalErrorHandler: エラーレスポンスのシリアライズに失敗: %v", err)
		body = []byte(fmt.Sprintf(
			`{"errors":[{"status":"%d","code":%q,"detail":%q,"meta":{"timestamp":%q,"path":%q,"correlationId":%q}}]}`,
			status, code, detail, timestamp, path, correlationID))
	}

	c.Abort()
	c.Data(status, contentTypeJSONAPI, body)
}
