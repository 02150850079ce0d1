package jsonapi

import (
	"encoding/json"
)

// ResourceObject はJSON:APIのリソースオブジェクトを表す。
type ResourceObject struct {
	// Type はリソースの種類。コレクション名に対応する。
	Type string `json:"type"`
	// ID はリソースの一意識別子。
	ID string `json:"id"`
	// Attributes はリソースの属性マップ。
	Attributes map[string]any `json:"attributes,omitempty"`
	// Relationships はリソースの関連マップ。キーは関連名。
	Relationships map[string]*Relationship `json:"relationships,omitempty"`
}

// Key はリソースを(type, id)で一意に識別するキーを返す。
// includedの重複排除に使用する。
func (r *ResourceObject) Key() string {
	return r.Type + ":" + r.ID
}

// ResourceIdentifier はリソースへの参照（typeとidのみ）を表す。
type ResourceIdentifier struct {
	// Type は参照先リソースの種類。
	Type string `json:"type"`
	// ID は参照先リソースの一意識別子。
	ID string `json:"id"`
}

// Relationship はリソース間の関連を表す。
// Dataは単一のResourceIdentifier、その配列、またはnullのいずれか。
type Relationship struct {
	// single は関連が単一リソース形式（data がオブジェクト）の場合の参照。
	single *ResourceIdentifier
	// collection は関連が複数リソース形式（data が配列）の場合の参照リスト。
	collection []*ResourceIdentifier
	// isCollection はdataが配列形式かどうか。シリアライズ時の形を保持する。
	isCollection bool
}

// Single は単一リソース形式の関連からResourceIdentifierを返す。
// 複数形式またはnullの場合はnilを返す。
func (r *Relationship) Single() *ResourceIdentifier {
	if r.isCollection {
		return nil
	}
	return r.single
}

// Collection は複数リソース形式の関連からResourceIdentifierのリストを返す。
// 単一形式の場合はnilを返す。
func (r *Relationship) Collection() []*ResourceIdentifier {
	if !r.isCollection {
		return nil
	}
	return r.collection
}

// Identifiers は関連が参照するすべてのResourceIdentifierを返す。
// 単一・複数どちらの形式でも使用できる。
func (r *Relationship) Identifiers() []*ResourceIdentifier {
	if r.isCollection {
		return r.collection
	}
	if r.single == nil {
		return nil
	}
	return []*ResourceIdentifier{r.single}
}

// NewSingleRelationship は単一リソース形式の関連を生成する。
func NewSingleRelationship(identifier *ResourceIdentifier) *Relationship {
	return &Relationship{single: identifier}
}

// NewCollectionRelationship は複数リソース形式の関連を生成する。
func NewCollectionRelationship(identifiers []*ResourceIdentifier) *Relationship {
	return &Relationship{collection: identifiers, isCollection: true}
}

// relationshipJSON はRelationshipのワイヤ形式。
type relationshipJSON struct {
	Data json.RawMessage `json:"data"`
}

// UnmarshalJSON はdataフィールドの形（オブジェクト/配列/null）を判別して
// Relationshipをデシリアライズする。
func (r *Relationship) UnmarshalJSON(b []byte) error {
	var raw relationshipJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	if len(raw.Data) == 0 || string(raw.Data) == "null" {
		return nil
	}

	if raw.Data[0] == '[' {
		r.isCollection = true
		return json.Unmarshal(raw.Data, &r.collection)
	}

	return json.Unmarshal(raw.Data, &r.single)
}

// MarshalJSON はデシリアライズ時の形を保ってRelationshipをシリアライズする。
func (r *Relationship) MarshalJSON() ([]byte, error) {
	var data any
	if r.isCollection {
		data = r.collection
	} else if r.single != nil {
		data = r.single
	}
	return json.Marshal(relationshipJSON{Data: mustMarshal(data)})
}

// mustMarshal はシリアライズ不能な値をnullとして扱う内部ヘルパー。
func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

// ErrorObject はJSON:APIのエラーオブジェクトを表す。
type ErrorObject struct {
	// Status はHTTPステータスコードの文字列表現。
	Status string `json:"status"`
	// Code はアプリケーション固有のエラーコード（例: "UNAUTHORIZED"）。
	Code string `json:"code"`
	// Title はエラーの短い概要。
	Title string `json:"title,omitempty"`
	// Detail はエラーの詳細メッセージ。
	Detail string `json:"detail"`
	// Meta はタイムスタンプ・パス・相関IDなどの付加情報。
	Meta map[string]any `json:"meta,omitempty"`
}

// Document はJSON:APIのトップレベルドキュメントを表す。
// 成功レスポンスはData/Included、エラーレスポンスはErrorsを持つ。
type Document struct {
	// data はプライマリリソースのリスト。単一リソースの場合も1要素のリストで保持する。
	data []*ResourceObject
	// singular はdataが単一オブジェクト形式かどうか。シリアライズ時の形を保持する。
	singular bool
	// hasData はワイヤ形式にdataメンバーが存在したかどうか。
	// nullのdata（空のto-one関連）をメンバー省略と区別して保持する。
	hasData bool
	// Included は関連リソースのリスト。
	Included []*ResourceObject
	// Errors はエラーオブジェクトのリスト。
	Errors []*ErrorObject
	// Meta はドキュメントレベルの付加情報。
	Meta map[string]any
}

// Data はプライマリリソースのリストを返す。単一リソースの場合は1要素のリスト。
func (d *Document) Data() []*ResourceObject {
	return d.data
}

// HasData はプライマリリソースが存在するかどうかを返す。
func (d *Document) HasData() bool {
	return len(d.data) > 0
}

// SetData はプライマリリソースを設定する。singularはシリアライズ時に
// 単一オブジェクト形式とするかどうか。
func (d *Document) SetData(resources []*ResourceObject, singular bool) {
	d.data = resources
	d.singular = singular
	d.hasData = true
}

// documentJSON はDocumentのワイヤ形式。
type documentJSON struct {
	Data     json.RawMessage   `json:"data,omitempty"`
	Included []*ResourceObject `json:"included,omitempty"`
	Errors   []*ErrorObject    `json:"errors,omitempty"`
	Meta     map[string]any    `json:"meta,omitempty"`
}

// UnmarshalJSON はdataフィールドの形（オブジェクト/配列/null）を判別して
// Documentをデシリアライズする。
func (d *Document) UnmarshalJSON(b []byte) error {
	var raw documentJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	d.Included = raw.Included
	d.Errors = raw.Errors
	d.Meta = raw.Meta

	if len(raw.Data) == 0 {
		return nil
	}
	d.hasData = true

	if string(raw.Data) == "null" {
		return nil
	}

	if raw.Data[0] == '[' {
		return json.Unmarshal(raw.Data, &d.data)
	}

	d.singular = true
	var single ResourceObject
	if err := json.Unmarshal(raw.Data, &single); err != nil {
		return err
	}
	d.data = []*ResourceObject{&single}
	return nil
}

// MarshalJSON はデシリアライズ時の形を保ってDocumentをシリアライズする。
func (d *Document) MarshalJSON() ([]byte, error) {
	raw := documentJSON{
		Included: d.Included,
		Errors:   d.Errors,
		Meta:     d.Meta,
	}

	if d.hasData {
		switch {
		case d.data == nil:
			raw.Data = json.RawMessage("null")
		case d.singular && len(d.data) == 1:
			raw.Data = mustMarshal(d.data[0])
		default:
			raw.Data = mustMarshal(d.data)
		}
	}

	return json.Marshal(raw)
}
