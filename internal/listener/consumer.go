package listener

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/nao1215/metahub/internal/authz"
	"github.com/nao1215/metahub/internal/route"
	"github.com/nao1215/metahub/pkg/event"
	"github.com/nao1215/metahub/pkg/httpclient"
)

// TopicCollectionChanged はコレクション変更イベントのトピック名。
const TopicCollectionChanged = "collection-changed"

// TopicAuthzChanged は認可変更イベントのトピック名。
const TopicAuthzChanged = "authz-changed"

// AuditRecorder は適用済みイベントを記録するインターフェース。
// 戻り値のappliedがfalseの場合、同じイベントIDが既に記録済み（重複配信）。
type AuditRecorder interface {
	Record(ctx context.Context, ev *event.ConfigEvent) (applied bool, err error)
}

// Consumer は設定変更イベントのフィードをポーリングし、
// ルートレジストリと認可キャッシュに反映するバックグラウンドプロセス。
type Consumer struct {
	// client はイベントフィードとの通信用HTTPクライアント。
	client *httpclient.Client
	// topics は購読するトピックのリスト。
	topics []string
	// registry は反映先のルートレジストリ。
	registry *route.Registry
	// authzCache は反映先の認可キャッシュ。
	authzCache *authz.Cache
	// defaultBackendURL はコレクション変更イベントから構築するルートの転送先。
	defaultBackendURL string
	// audit は適用済みイベントの記録先。nilの場合は記録しない。
	audit AuditRecorder
	// interval はポーリング間隔。
	interval time.Duration
	// mu はwatermarksへの並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// watermarks はトピックごとの最終取得タイムスタンプ。
	watermarks map[string]time.Time
	// cancel はバックグラウンドゴルーチンを停止するためのキャンセル関数。
	cancel context.CancelFunc
}

// NewConsumer は新しいConsumerを生成する。
// feedURLはイベントフィードのベースURL（例: "http://control-plane:8090"）。
func NewConsumer(feedURL, defaultBackendURL string, registry *route.Registry, authzCache *authz.Cache, audit AuditRecorder) *Consumer {
	return &Consumer{
		client:            httpclient.New(feedURL),
		topics:            []string{TopicCollectionChanged, TopicAuthzChanged},
		registry:          registry,
		authzCache:        authzCache,
		defaultBackendURL: defaultBackendURL,
		audit:             audit,
		interval:          2 * time.Second,
		watermarks:        make(map[string]time.Time),
	}
}

// Start はバックグラウンドでイベントフィードのポーリングを開始する。
// 単一のゴルーチンが全トピックを順に処理するため、トピック内の
// イベント順序（同一コレクションの変更順序）は常に保持される。
func (c *Consumer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go func() {
		log.Println("ConfigEventConsumer: イベントフィードのポーリングを開始します")
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("ConfigEventConsumer: ポーリングを停止しました")
				return
			case <-ticker.C:
				for _, topic := range c.topics {
					if err := c.pollTopic(ctx, topic); err != nil {
						log.Printf("ConfigEventConsumer: ポーリングエラー: topic=%s, err=%v", topic, err)
					}
				}
			}
		}
	}()
}

// Stop はバックグラウンドのポーリングを停止する。
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// pollTopic は1トピックの新しいイベントを取得して順に適用する。
// 不正なイベントはログに記録してスキップし、後続のイベント処理を継続する。
func (c *Consumer) pollTopic(ctx context.Context, topic string) error {
	c.mu.Lock()
	since := c.watermarks[topic]
	c.mu.Unlock()

	path := fmt.Sprintf("/api/v1/config-events/%s?since=%s",
		topic, url.QueryEscape(since.UTC().Format(time.RFC3339Nano)))

	var events []event.ConfigEvent
	if err := c.client.GetJSON(ctx, path, &events); err != nil {
		return fmt.Errorf("イベントフィードからの取得に失敗: %w", err)
	}

	if len(events) == 0 {
		return nil
	}

	var latest time.Time
	for i := range events {
		ev := &events[i]
		if err := c.handleEvent(ctx, ev); err != nil {
			log.Printf("ConfigEventConsumer: イベント処理エラーのためスキップします (id=%s, type=%s): %v",
				ev.EventID, ev.EventType, err)
		}
		if ev.Timestamp.After(latest) {
			latest = ev.Timestamp
		}
	}

	if !latest.IsZero() {
		c.mu.Lock()
		// 同じイベントを再取得しないように1ナノ秒進める
		c.watermarks[topic] = latest.Add(1 * time.Nanosecond)
		c.mu.Unlock()
	}

	log.Printf("ConfigEventConsumer: %d件のイベントを処理しました: topic=%s", len(events), topic)
	return nil
}

// handleEvent は1つのイベントをイベントタイプに応じて適用する。
// すべてのハンドラは冪等であり、重複配信されたイベントは無害に再適用される。
func (c *Consumer) handleEvent(ctx context.Context, ev *event.ConfigEvent) error {
	if ev.EventID == "" {
		return fmt.Errorf("eventIdが空のイベント")
	}

	if c.audit != nil {
		applied, err := c.audit.Record(ctx, ev)
		if err != nil {
			log.Printf("ConfigEventConsumer: 監査記録に失敗しましたが処理を継続します: id=%s, err=%v", ev.EventID, err)
		} else if !applied {
			log.Printf("ConfigEventConsumer: 適用済みイベントをスキップします: id=%s", ev.EventID)
			return nil
		}
	}

	switch ev.EventType {
	case event.TypeCollectionChanged:
		return c.handleCollectionChanged(ev)
	case event.TypeAuthzChanged:
		return c.handleAuthzChanged(ev)
	default:
		return fmt.Errorf("未知のイベントタイプ: %q", ev.EventType)
	}
}

// handleCollectionChanged はコレクション変更イベントをルートレジストリに反映する。
// CREATED/UPDATEDはアップサート、DELETEDは削除。どちらも冪等。
func (c *Consumer) handleCollectionChanged(ev *event.ConfigEvent) error {
	payload, err := event.DecodePayload[event.CollectionChangedPayload](ev)
	if err != nil {
		return err
	}

	if payload.ID == "" {
		return fmt.Errorf("コレクションIDが空のペイロード")
	}

	switch payload.ChangeType {
	case event.ChangeTypeDeleted:
		c.registry.Remove(payload.ID)
		log.Printf("ConfigEventConsumer: 削除されたコレクションのルートを除去しました: id=%s, name=%s",
			payload.ID, payload.Name)
		return nil
	case event.ChangeTypeCreated, event.ChangeTypeUpdated:
		if payload.Name == "" || payload.Path == "" {
			return fmt.Errorf("nameまたはpathが空のコレクションペイロード: id=%s", payload.ID)
		}
		c.registry.Add(route.Definition{
			ID:             payload.ID,
			Path:           route.NormalizePath(payload.Path),
			BackendURL:     c.defaultBackendURL,
			CollectionName: payload.Name,
		})
		log.Printf("ConfigEventConsumer: コレクションのルートを更新しました: id=%s, name=%s, correlationId=%s",
			payload.ID, payload.Name, ev.CorrelationID)
		return nil
	default:
		return fmt.Errorf("未知のchangeType: %q", payload.ChangeType)
	}
}

// handleAuthzChanged は認可変更イベントを認可キャッシュに反映する。
// ペイロードは常に完全なポリシーリストを持ち、コレクションの設定を全置換する。
func (c *Consumer) handleAuthzChanged(ev *event.ConfigEvent) error {
	payload, err := event.DecodePayload[event.AuthzChangedPayload](ev)
	if err != nil {
		return err
	}

	if payload.CollectionID == "" {
		return fmt.Errorf("collectionIdが空の認可ペイロード")
	}

	cfg := authz.Config{
		CollectionID:   payload.CollectionID,
		CollectionName: payload.CollectionName,
	}
	for _, entry := range payload.RoutePolicies {
		if entry.Operation == "" {
			continue
		}
		cfg.RoutePolicies = append(cfg.RoutePolicies, authz.RoutePolicy{
			Operation: entry.Operation,
			PolicyID:  entry.PolicyID,
			Roles:     entry.Roles,
		})
	}
	for _, entry := range payload.FieldPolicies {
		if entry.Field == "" {
			continue
		}
		cfg.FieldPolicies = append(cfg.FieldPolicies, authz.FieldPolicy{
			Field:    entry.Field,
			PolicyID: entry.PolicyID,
			Roles:    entry.Roles,
		})
	}

	c.authzCache.Update(payload.CollectionID, cfg)
	log.Printf("ConfigEventConsumer: 認可設定を全置換しました: collectionId=%s, correlationId=%s",
		payload.CollectionID, ev.CorrelationID)
	return nil
}
