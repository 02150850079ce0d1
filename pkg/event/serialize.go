package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New は新しい設定変更イベントを生成する。
// payloadにはイベント固有のペイロード構造体を渡す。JSON形式にシリアライズされる。
func New(eventType Type, correlationID string, payload any) (*ConfigEvent, error) {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("イベントペイロードのシリアライズに失敗: %w", err)
	}

	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	return &ConfigEvent{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Payload:       jsonPayload,
	}, nil
}

// DecodePayload はイベントのPayloadフィールドを指定された型にデシリアライズする。
func DecodePayload[T any](e *ConfigEvent) (*T, error) {
	var payload T
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return nil, fmt.Errorf("イベントペイロードのデシリアライズに失敗: %w", err)
	}
	return &payload, nil
}
