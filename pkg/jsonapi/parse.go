package jsonapi

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrParse はJSON:APIドキュメントの解析失敗を表すセンチネルエラー。
// errors.Isで判別し、JSONAPI_PARSE_ERRORとしてクライアントに返却される。
var ErrParse = errors.New("JSON:APIドキュメントの解析に失敗")

// Parse はJSONバイト列をJSON:APIドキュメントにデシリアライズする。
func Parse(body []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return &doc, nil
}

// ParseResource はJSON文字列を単一のリソースオブジェクトにデシリアライズする。
// キャッシュに格納されたリソースの復元に使用する。
func ParseResource(s string) (*ResourceObject, error) {
	var resource ResourceObject
	if err := json.Unmarshal([]byte(s), &resource); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if resource.Type == "" || resource.ID == "" {
		return nil, fmt.Errorf("%w: typeまたはidが欠落", ErrParse)
	}
	return &resource, nil
}

// Serialize はドキュメントをJSONバイト列にシリアライズする。
func Serialize(doc *Document) ([]byte, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("JSON:APIドキュメントのシリアライズに失敗: %w", err)
	}
	return b, nil
}
