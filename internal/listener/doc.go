// Package listener はコントロールプレーンの設定変更イベントを購読し、
// ルートレジストリと認可キャッシュに増分反映するコンシューマを提供する。
//
// 配信はat-least-onceであり、すべてのハンドラは冪等（重複したupsert/deleteは
// 無害）に実装されている。不正なイベントはログに記録してスキップされ、
// コンシューマループは後続のイベント処理を継続する。トピック内の到着順は
// 保持されるため、同一コレクションのイベントは常に最後のものが勝つ。
package listener
