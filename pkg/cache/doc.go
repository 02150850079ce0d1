// Package cache は共有キャッシュ・共有カウンタの抽象と実装を提供する。
//
// レートリミッタの分散カウンタとJSON:APIリソースキャッシュが同じStoreを
// 共有する。本番ではRedis、開発・テストではインメモリ実装を使用する。
// Storeの障害は各利用箇所でフェイルオープン（許可・スキップ）として扱われ、
// リクエスト処理を止めない。
package cache
