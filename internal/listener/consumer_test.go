package listener

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nao1215/metahub/internal/authz"
	"github.com/nao1215/metahub/internal/route"
	"github.com/nao1215/metahub/pkg/event"
)

// stubAudit はテスト用のAuditRecorder実装。
type stubAudit struct {
	// seen は記録済みイベントIDの集合。
	seen map[string]struct{}
}

func newStubAudit() *stubAudit {
	return &stubAudit{seen: make(map[string]struct{})}
}

// Record はイベントIDが未記録ならtrueを返し、記録済みならfalseを返す。
func (s *stubAudit) Record(_ context.Context, ev *event.ConfigEvent) (bool, error) {
	if _, ok := s.seen[ev.EventID]; ok {
		return false, nil
	}
	s.seen[ev.EventID] = struct{}{}
	return true, nil
}

// newEventFeed はイベントフィードAPIを模倣するテストサーバーを生成する。
// topicEventsはトピック名とイベントリストのマップ。sinceパラメータより
// 新しいイベントのみ返す。
func newEventFeed(t *testing.T, topicEvents map[string][]event.ConfigEvent) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		topic := r.URL.Path[len("/api/v1/config-events/"):]
		since, _ := time.Parse(time.RFC3339Nano, r.URL.Query().Get("since"))

		var result []event.ConfigEvent
		for _, ev := range topicEvents[topic] {
			if ev.Timestamp.After(since) || ev.Timestamp.Equal(since) {
				result = append(result, ev)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}))
	t.Cleanup(ts.Close)
	return ts
}

// mustEvent はテスト用の設定変更イベントを構築する。
func mustEvent(t *testing.T, id string, eventType event.Type, ts time.Time, payload any) event.ConfigEvent {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("ペイロードのシリアライズに失敗: %v", err)
	}
	return event.ConfigEvent{
		EventID:       id,
		EventType:     eventType,
		CorrelationID: "corr-" + id,
		Timestamp:     ts,
		Payload:       raw,
	}
}

// TestConsumerPollTopic はイベントフィードのポーリングと適用を検証する。
func TestConsumerPollTopic(t *testing.T) {
	t.Parallel()

	t.Run("コレクション変更イベントがルートに反映されること", func(t *testing.T) {
		t.Parallel()

		now := time.Now().UTC()
		feed := newEventFeed(t, map[string][]event.ConfigEvent{
			TopicCollectionChanged: {
				mustEvent(t, "ev-1", event.TypeCollectionChanged, now, event.CollectionChangedPayload{
					ChangeType: event.ChangeTypeCreated,
					ID:         "col-1",
					Name:       "orders",
					Active:     true,
					Path:       "/api/orders",
				}),
			},
		})

		registry := route.NewRegistry()
		c := NewConsumer(feed.URL, "http://backend", registry, authz.NewCache(), newStubAudit())

		if err := c.pollTopic(context.Background(), TopicCollectionChanged); err != nil {
			t.Fatalf("pollTopic()でエラーが発生: %v", err)
		}

		def, ok := registry.Get("col-1")
		if !ok {
			t.Fatal("ルートが登録されていない")
		}
		if def.Path != "/api/orders/**" {
			t.Errorf("Path = %q, want %q", def.Path, "/api/orders/**")
		}
		if def.BackendURL != "http://backend" {
			t.Errorf("BackendURL = %q, want %q", def.BackendURL, "http://backend")
		}
	})

	t.Run("削除イベントでルートが除去されること", func(t *testing.T) {
		t.Parallel()

		now := time.Now().UTC()
		feed := newEventFeed(t, map[string][]event.ConfigEvent{
			TopicCollectionChanged: {
				mustEvent(t, "ev-1", event.TypeCollectionChanged, now, event.CollectionChangedPayload{
					ChangeType: event.ChangeTypeDeleted,
					ID:         "col-1",
					Name:       "orders",
				}),
			},
		})

		registry := route.NewRegistry()
		registry.Add(route.Definition{ID: "col-1", Path: "/api/orders/**"})
		c := NewConsumer(feed.URL, "http://backend", registry, authz.NewCache(), newStubAudit())

		if err := c.pollTopic(context.Background(), TopicCollectionChanged); err != nil {
			t.Fatalf("pollTopic()でエラーが発生: %v", err)
		}

		if _, ok := registry.Get("col-1"); ok {
			t.Error("削除されたコレクションのルートが残っている")
		}
	})

	t.Run("認可変更イベントで設定が全置換されること", func(t *testing.T) {
		t.Parallel()

		now := time.Now().UTC()
		feed := newEventFeed(t, map[string][]event.ConfigEvent{
			TopicAuthzChanged: {
				mustEvent(t, "ev-1", event.TypeAuthzChanged, now, event.AuthzChangedPayload{
					CollectionID:   "col-1",
					CollectionName: "orders",
					RoutePolicies:  []event.RoutePolicyEntry{{Operation: "DELETE", PolicyID: "p-1", Roles: []string{"admin"}}},
				}),
			},
		})

		authzCache := authz.NewCache()
		authzCache.Update("col-1", authz.Config{
			CollectionID:   "col-1",
			CollectionName: "orders",
			FieldPolicies:  []authz.FieldPolicy{{Field: "cost", Roles: []string{"finance"}}},
		})

		c := NewConsumer(feed.URL, "http://backend", route.NewRegistry(), authzCache, newStubAudit())

		if err := c.pollTopic(context.Background(), TopicAuthzChanged); err != nil {
			t.Fatalf("pollTopic()でエラーが発生: %v", err)
		}

		cfg, ok := authzCache.Get("col-1")
		if !ok {
			t.Fatal("認可設定が取得できない")
		}
		if _, ok := cfg.RoutePolicyFor("DELETE"); !ok {
			t.Error("新しいルートポリシーが反映されていない")
		}
		if len(cfg.FieldPolicies) != 0 {
			t.Error("古いフィールドポリシーが全置換で消えていない")
		}
	})

	t.Run("不正なイベントはスキップされ後続イベントが処理されること", func(t *testing.T) {
		t.Parallel()

		now := time.Now().UTC()
		broken := event.ConfigEvent{
			EventID:   "ev-broken",
			EventType: event.TypeCollectionChanged,
			Timestamp: now,
			Payload:   []byte(`{broken`),
		}
		feed := newEventFeed(t, map[string][]event.ConfigEvent{
			TopicCollectionChanged: {
				broken,
				mustEvent(t, "ev-2", event.TypeCollectionChanged, now.Add(time.Millisecond), event.CollectionChangedPayload{
					ChangeType: event.ChangeTypeCreated,
					ID:         "col-2",
					Name:       "products",
					Path:       "/api/products",
				}),
			},
		})

		registry := route.NewRegistry()
		c := NewConsumer(feed.URL, "http://backend", registry, authz.NewCache(), newStubAudit())

		if err := c.pollTopic(context.Background(), TopicCollectionChanged); err != nil {
			t.Fatalf("pollTopic()でエラーが発生: %v", err)
		}

		if _, ok := registry.Get("col-2"); !ok {
			t.Error("不正イベントの後続イベントが処理されていない")
		}
	})

	t.Run("記録済みイベントは再適用されないこと", func(t *testing.T) {
		t.Parallel()

		now := time.Now().UTC()
		ev := mustEvent(t, "ev-dup", event.TypeCollectionChanged, now, event.CollectionChangedPayload{
			ChangeType: event.ChangeTypeCreated,
			ID:         "col-1",
			Name:       "orders",
			Path:       "/api/orders",
		})
		feed := newEventFeed(t, map[string][]event.ConfigEvent{
			TopicCollectionChanged: {ev},
		})

		registry := route.NewRegistry()
		audit := newStubAudit()
		c := NewConsumer(feed.URL, "http://backend", registry, authz.NewCache(), audit)

		if err := c.pollTopic(context.Background(), TopicCollectionChanged); err != nil {
			t.Fatalf("pollTopic()でエラーが発生: %v", err)
		}

		// 適用済みルートを削除した上で同じイベントを再配信しても復活しない
		registry.Remove("col-1")
		c.watermarks[TopicCollectionChanged] = time.Time{}

		if err := c.pollTopic(context.Background(), TopicCollectionChanged); err != nil {
			t.Fatalf("2回目のpollTopic()でエラーが発生: %v", err)
		}

		if _, ok := registry.Get("col-1"); ok {
			t.Error("記録済みイベントが再適用されてしまった")
		}
	})

	t.Run("ウォーターマークにより同じイベントを再取得しないこと", func(t *testing.T) {
		t.Parallel()

		now := time.Now().UTC()
		feed := newEventFeed(t, map[string][]event.ConfigEvent{
			TopicCollectionChanged: {
				mustEvent(t, "ev-1", event.TypeCollectionChanged, now, event.CollectionChangedPayload{
					ChangeType: event.ChangeTypeCreated,
					ID:         "col-1",
					Name:       "orders",
					Path:       "/api/orders",
				}),
			},
		})

		registry := route.NewRegistry()
		c := NewConsumer(feed.URL, "http://backend", registry, authz.NewCache(), newStubAudit())

		if err := c.pollTopic(context.Background(), TopicCollectionChanged); err != nil {
			t.Fatalf("pollTopic()でエラーが発生: %v", err)
		}

		// 適用済みルートを削除した上で再ポーリング。ウォーターマークが
		// 進んでいるためイベントは配信されず、ルートは復活しない
		registry.Remove("col-1")

		if err := c.pollTopic(context.Background(), TopicCollectionChanged); err != nil {
			t.Fatalf("2回目のpollTopic()でエラーが発生: %v", err)
		}

		if _, ok := registry.Get("col-1"); ok {
			t.Error("ウォーターマーク済みのイベントが再取得されてしまった")
		}
	})

	t.Run("フィードに到達できない場合はエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		c := NewConsumer("http://127.0.0.1:1", "http://backend", route.NewRegistry(), authz.NewCache(), newStubAudit())
		if err := c.pollTopic(context.Background(), TopicCollectionChanged); err == nil {
			t.Error("pollTopic()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestConsumerHandleEvent はイベント適用の入力検証を検証する。
func TestConsumerHandleEvent(t *testing.T) {
	t.Parallel()

	t.Run("イベントIDが空のイベントはエラーになること", func(t *testing.T) {
		t.Parallel()

		c := NewConsumer("http://feed", "http://backend", route.NewRegistry(), authz.NewCache(), nil)
		ev := &event.ConfigEvent{EventType: event.TypeCollectionChanged}
		if err := c.handleEvent(context.Background(), ev); err == nil {
			t.Error("handleEvent()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("未知のイベントタイプはエラーになること", func(t *testing.T) {
		t.Parallel()

		c := NewConsumer("http://feed", "http://backend", route.NewRegistry(), authz.NewCache(), nil)
		ev := &event.ConfigEvent{EventID: "ev-1", EventType: "unknown.event"}
		if err := c.handleEvent(context.Background(), ev); err == nil {
			t.Error("handleEvent()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("コレクションIDが空のペイロードはエラーになること", func(t *testing.T) {
		t.Parallel()

		c := NewConsumer("http://feed", "http://backend", route.NewRegistry(), authz.NewCache(), nil)
		ev := mustEvent(t, "ev-1", event.TypeCollectionChanged, time.Now(), event.CollectionChangedPayload{
			ChangeType: event.ChangeTypeCreated,
			Name:       "orders",
			Path:       "/api/orders",
		})
		if err := c.handleEvent(context.Background(), &ev); err == nil {
			t.Error("handleEvent()がエラーを返すべきだが、nilが返った")
		}
	})
}
