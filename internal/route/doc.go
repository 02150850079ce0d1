// Package route はコレクションごとのルート定義とその動的な管理を提供する。
//
// RouteRegistryはパスパターンからルート定義を解決する並行安全なテーブルで、
// 起動時のブートストラップ取得（ConfigService）と設定変更イベントの適用に
// よって再起動なしで更新される。リクエスト処理側は常に一貫したスナップ
// ショットを読み取る。
package route
