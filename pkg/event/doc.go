// Package event はコントロールプレーンが発行する設定変更イベントの型を提供する。
//
// すべての設定変更（コレクションの作成・更新・削除、認可ポリシーの変更）は
// ConfigEventエンベロープとしてイベントフィードに発行され、gatewayサービスが
// 購読してルーティング・認可の状態を再起動なしで更新する。
package event
