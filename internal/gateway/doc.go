// Package gateway はメタデータ駆動のAPI Gatewayサービスの内部実装を提供する。
//
// コントロールプレーンから取得したコレクション定義に基づいてリクエストを
// バックエンドにルーティングし、JWT認証・レートリミット・ロールベースの
// ルート認可・フィールドレベルのレスポンスフィルタリング・関連リソースの
// include解決を1本のパイプラインとして適用する。外部からアクセス可能な
// 唯一のサービスであり、セキュリティの境界線として機能する。
package gateway
