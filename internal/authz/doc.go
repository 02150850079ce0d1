// Package authz はコレクション単位の認可ポリシーとその評価を提供する。
//
// 認可は加算的な制限として働く。コレクションに設定がなければ認証済みの
// 呼び出しはすべて許可され、ポリシーが存在する操作・フィールドのみが
// ロールで制限される。設定はブートストラップとauthz.changedイベントで
// コレクション単位に全置換される。
package authz
