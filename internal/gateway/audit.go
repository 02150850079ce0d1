package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nao1215/metahub/pkg/event"
)

// AuditStore は適用済み設定イベントをSQLiteに記録するストア。
// listener.AuditRecorderとして使用され、イベントIDの一意制約により
// 重複配信されたイベントの二重適用を検出する。
type AuditStore struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewAuditStore は新しいAuditStoreを生成する。
func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Record はイベントを監査ログに記録する。
// 同じイベントIDが既に記録済みの場合はfalseを返す（適用不要）。
func (s *AuditStore) Record(ctx context.Context, ev *event.ConfigEvent) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO config_events (event_id, event_type, correlation_id, payload) VALUES (?, ?, ?, ?)`,
		ev.EventID, ev.EventType, ev.CorrelationID, string(ev.Payload))
	if err != nil {
		return false, fmt.Errorf("監査ログへの記録に失敗: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("監査ログの記録結果の取得に失敗: %w", err)
	}
	return rows > 0, nil
}

// AuditEntry は監査ログの1レコードを表す。
type AuditEntry struct {
	// EventID はイベントの一意識別子。
	EventID string `json:"eventId"`
	// EventType はイベントの種類。
	EventType string `json:"eventType"`
	// CorrelationID はイベントを発生させた操作の相関ID。
	CorrelationID string `json:"correlationId"`
	// ReceivedAt はイベントを受信した日時。
	ReceivedAt time.Time `json:"receivedAt"`
}

// RecentEvents は受信日時の降順で最新の監査レコードを返す。
func (s *AuditStore) RecentEvents(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, event_type, correlation_id, received_at FROM config_events ORDER BY received_at DESC, event_id DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("監査ログの取得に失敗: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var entry AuditEntry
		if err := rows.Scan(&entry.EventID, &entry.EventType, &entry.CorrelationID, &entry.ReceivedAt); err != nil {
			return nil, fmt.Errorf("監査ログの読み取りに失敗: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("監査ログの走査に失敗: %w", err)
	}
	return entries, nil
}
