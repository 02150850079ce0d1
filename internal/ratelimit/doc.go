// Package ratelimit は共有カウンタによる固定ウィンドウ方式のレートリミットを提供する。
//
// カウンタは(ルートID, プリンシパル)ごとにウィンドウ長のTTL付きで管理される。
// 共有ストアが利用できない場合はフェイルオープンし、レートリミットの劣化が
// トラフィックを止めることはない。
package ratelimit
