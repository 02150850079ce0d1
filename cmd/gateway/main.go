// メタデータ駆動API Gatewayサービスのエントリポイント。
// コントロールプレーンのコレクション定義に基づくルーティング、JWT認証、
// レートリミット、ロールベース認可、JSON:APIレスポンス変換を担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"context"
	"log"
	"os"

	"github.com/nao1215/metahub/internal/gateway"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server, err := gateway.NewServer(port)
	if err != nil {
		log.Fatalf("Gatewayサーバーの初期化に失敗: %v", err)
	}
	defer server.Close()

	server.Start(context.Background())

	log.Printf("Gatewayサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("Gatewayサービスの起動に失敗: %v", err)
	}
}
