// Package auth は複数IDプロバイダに対応したJWT認証を提供する。
//
// 各プロバイダのJWKSエンドポイントから署名鍵を取得・キャッシュし、
// TTL切れ時は再取得、再取得失敗時は最後に成功した鍵セットへフォールバック
// する。トークンのクレームからは形の異なる複数のレイアウト（roles、
// realm_access、resource_access、groups、scope）を順に適用してロールを
// 抽出し、結果を和集合として返す。
package auth
