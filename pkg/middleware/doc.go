// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// 相関IDの採番・伝播、パニックリカバリ、CORS設定など、
// gatewayの全エンドポイントで共通して使用するミドルウェアを含む。
package middleware
