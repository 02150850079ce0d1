package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID はリクエストIDを伝播するHTTPヘッダーキー。
const HeaderRequestID = "X-Request-ID"

// HeaderCorrelationID は相関IDを伝播するHTTPヘッダーキー。
const HeaderCorrelationID = "X-Correlation-ID"

// contextKeyCorrelationID はGinコンテキストに相関IDを格納するためのキー。
const contextKeyCorrelationID = "correlation_id"

// Correlation はリクエストに相関IDを割り当てるGinミドルウェアを返す。
// 受信ヘッダー（X-Correlation-ID、次いでX-Request-ID）の値を採用し、
// どちらもなければ新規にUUIDを採番する。採用した値はレスポンスヘッダーと
// Ginコンテキストに設定され、エラーレスポンスとバックエンド転送で使用される。
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderCorrelationID)
		if correlationID == "" {
			correlationID = c.GetHeader(HeaderRequestID)
		}
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Set(contextKeyCorrelationID, correlationID)
		c.Header(HeaderCorrelationID, correlationID)
		c.Header(HeaderRequestID, correlationID)
		c.Next()
	}
}

// GetCorrelationID はGinコンテキストから相関IDを取得する。
// Correlationミドルウェアが適用されていない場合は空文字列を返す。
func GetCorrelationID(c *gin.Context) string {
	value, _ := c.Get(contextKeyCorrelationID)
	if id, ok := value.(string); ok {
		return id
	}
	return ""
}
