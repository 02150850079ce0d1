// Package jsonapi はJSON:API形式のドキュメントモデルとパーサーを提供する。
//
// gatewayサービスがバックエンドのレスポンスを解析し、フィールド認可による
// 属性の除去やincludeパラメータによる関連リソースの合成を行うために使用する。
// 成功レスポンスは data/included、エラーレスポンスは errors 配列で表現される。
package jsonapi
