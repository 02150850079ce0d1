// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// gatewayがコントロールプレーンのブートストラップAPIや設定変更イベントの
// フィードを呼び出す際に使用する。タイムアウトと相関IDの伝播を統一する。
package httpclient
