package event

import (
	"encoding/json"
	"time"
)

// Type は設定変更イベントの種類を表す。ペイロードの型を決定する識別子。
type Type string

const (
	// TypeCollectionChanged はコレクション定義が作成・更新・削除されたことを表す。
	TypeCollectionChanged Type = "collection.changed"
	// TypeAuthzChanged はコレクションの認可ポリシーが変更されたことを表す。
	TypeAuthzChanged Type = "authz.changed"
)

// ChangeType はコレクション変更の種別を表す。
type ChangeType string

const (
	// ChangeTypeCreated はコレクションが新規作成されたことを表す。
	ChangeTypeCreated ChangeType = "CREATED"
	// ChangeTypeUpdated はコレクションが更新されたことを表す。
	ChangeTypeUpdated ChangeType = "UPDATED"
	// ChangeTypeDeleted はコレクションが削除されたことを表す。
	ChangeTypeDeleted ChangeType = "DELETED"
)

// ConfigEvent は設定変更イベントのエンベロープを表す。
// PayloadはEventTypeに応じてCollectionChangedPayloadまたは
// AuthzChangedPayloadにデシリアライズされる。
type ConfigEvent struct {
	// EventID はイベントの一意識別子（UUID）。重複配信の検出に使用する。
	EventID string `json:"eventId"`
	// EventType はイベントの種類。ペイロード型のディスクリミネータ。
	EventType Type `json:"eventType"`
	// CorrelationID は変更を引き起こした操作の相関ID。
	CorrelationID string `json:"correlationId"`
	// Timestamp はイベントが発行された日時。
	Timestamp time.Time `json:"timestamp"`
	// Payload はイベント固有のデータ（JSON形式）。
	Payload json.RawMessage `json:"payload"`
}

// CollectionChangedPayload はcollection.changedイベントのペイロード。
type CollectionChangedPayload struct {
	// ChangeType は変更の種別（CREATED/UPDATED/DELETED）。
	ChangeType ChangeType `json:"changeType"`
	// ID はコレクションの一意識別子。ルートIDとしても使用される。
	ID string `json:"id"`
	// Name はコレクション名。JSON:APIのリソースタイプに対応する。
	Name string `json:"name"`
	// Active はコレクションが有効かどうか。
	Active bool `json:"active"`
	// Path はコレクションが公開されるAPIパス（例: "/api/orders"）。
	Path string `json:"path"`
}

// AuthzChangedPayload はauthz.changedイベントのペイロード。
// ポリシーリストは常に完全なリストであり、既存の設定を全置換する。
type AuthzChangedPayload struct {
	// CollectionID は対象コレクションの一意識別子。
	CollectionID string `json:"collectionId"`
	// CollectionName は対象コレクションの名前。
	CollectionName string `json:"collectionName"`
	// RoutePolicies はHTTP操作単位の認可ポリシーの完全なリスト。
	RoutePolicies []RoutePolicyEntry `json:"routePolicies"`
	// FieldPolicies はフィールド単位の認可ポリシーの完全なリスト。
	FieldPolicies []FieldPolicyEntry `json:"fieldPolicies"`
}

// RoutePolicyEntry はイベントペイロード内のルートポリシーを表す。
type RoutePolicyEntry struct {
	// Operation は対象のHTTP操作（GET/POST/PUT/PATCH/DELETE）。
	Operation string `json:"operation"`
	// PolicyID はポリシーの一意識別子。
	PolicyID string `json:"policyId"`
	// Roles は操作に必要なロールのリスト（いずれか1つを持てば許可）。
	Roles []string `json:"roles"`
}

// FieldPolicyEntry はイベントペイロード内のフィールドポリシーを表す。
type FieldPolicyEntry struct {
	// Field は対象の属性名。
	Field string `json:"field"`
	// PolicyID はポリシーの一意識別子。
	PolicyID string `json:"policyId"`
	// Roles はフィールドの閲覧に必要なロールのリスト。
	Roles []string `json:"roles"`
}
