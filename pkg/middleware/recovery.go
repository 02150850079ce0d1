package middleware

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニック発生時にスタックトレースをログに出力し、JSON:API形式の
// 500エラーを返す。内部の詳細はクライアントに漏らさない。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[PANIC] %s %s: %v", c.Request.Method, c.Request.URL.Path, r)
				body := fmt.Sprintf(
					`{"errors":[{"status":"500","code":"INTERNAL_ERROR","detail":"予期しないエラーが発生しました","meta":{"timestamp":%q,"path":%q,"correlationId":%q}}]}`,
					time.Now().UTC().Format(time.RFC3339),
					c.Request.URL.Path,
					GetCorrelationID(c),
				)
				c.Abort()
				c.Data(http.StatusInternalServerError, "application/vnd.api+json", []byte(body))
			}
		}()
		c.Next()
	}
}
