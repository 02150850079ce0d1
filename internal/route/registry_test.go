package route

import (
	"testing"
)

// TestRegistryAdd はルートのアップサートを検証する。
func TestRegistryAdd(t *testing.T) {
	t.Parallel()

	t.Run("ルートを追加して取得できること", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		r.Add(Definition{ID: "col-1", Path: "/api/orders/**", BackendURL: "http://backend", CollectionName: "orders"})

		def, ok := r.Get("col-1")
		if !ok {
			t.Fatal("追加したルートが取得できない")
		}
		if def.CollectionName != "orders" {
			t.Errorf("CollectionName = %q, want %q", def.CollectionName, "orders")
		}
		if r.Size() != 1 {
			t.Errorf("Size() = %d, want 1", r.Size())
		}
	})

	t.Run("同じIDのルートは置換されること", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		r.Add(Definition{ID: "col-1", Path: "/api/orders/**", CollectionName: "orders"})
		r.Add(Definition{ID: "col-1", Path: "/api/purchases/**", CollectionName: "purchases"})

		def, ok := r.Get("col-1")
		if !ok {
			t.Fatal("ルートが取得できない")
		}
		if def.Path != "/api/purchases/**" {
			t.Errorf("Path = %q, want %q", def.Path, "/api/purchases/**")
		}
		if r.Size() != 1 {
			t.Errorf("Size() = %d, want 1", r.Size())
		}
	})

	t.Run("IDまたはパスが空のルートは無視されること", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		r.Add(Definition{ID: "", Path: "/api/orders/**"})
		r.Add(Definition{ID: "col-1", Path: ""})

		if r.Size() != 0 {
			t.Errorf("Size() = %d, want 0", r.Size())
		}
	})
}

// TestRegistryRemove はルートの削除を検証する。
func TestRegistryRemove(t *testing.T) {
	t.Parallel()

	t.Run("ルートを削除できること", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		r.Add(Definition{ID: "col-1", Path: "/api/orders/**"})
		r.Remove("col-1")

		if _, ok := r.Get("col-1"); ok {
			t.Error("削除したルートが取得できてしまう")
		}
	})

	t.Run("存在しないIDの削除は何も起きないこと", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		r.Add(Definition{ID: "col-1", Path: "/api/orders/**"})
		r.Remove("unknown")

		if r.Size() != 1 {
			t.Errorf("Size() = %d, want 1", r.Size())
		}
	})
}

// TestRegistryReplaceAll は一括置換を検証する。
func TestRegistryReplaceAll(t *testing.T) {
	t.Parallel()

	t.Run("既存ルートが完全に置き換わること", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		r.Add(Definition{ID: "old-1", Path: "/api/old/**"})

		r.ReplaceAll([]Definition{
			{ID: "new-1", Path: "/api/orders/**", CollectionName: "orders"},
			{ID: "new-2", Path: "/api/products/**", CollectionName: "products"},
		})

		if _, ok := r.Get("old-1"); ok {
			t.Error("置換前のルートが残っている")
		}
		if r.Size() != 2 {
			t.Errorf("Size() = %d, want 2", r.Size())
		}
	})

	t.Run("不正な定義はスキップされること", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		r.ReplaceAll([]Definition{
			{ID: "ok", Path: "/api/ok/**"},
			{ID: "", Path: "/api/bad/**"},
			{ID: "bad", Path: ""},
		})

		if r.Size() != 1 {
			t.Errorf("Size() = %d, want 1", r.Size())
		}
	})

	t.Run("空のリストで置換すると空になること", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		r.Add(Definition{ID: "col-1", Path: "/api/orders/**"})
		r.ReplaceAll(nil)

		if r.Size() != 0 {
			t.Errorf("Size() = %d, want 0", r.Size())
		}
	})
}

// TestRegistryFindByPath はパスマッチングを検証する。
func TestRegistryFindByPath(t *testing.T) {
	t.Parallel()

	t.Run("ワイルドカードパターンがサブパスにマッチすること", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		r.Add(Definition{ID: "col-1", Path: "/api/orders/**", CollectionName: "orders"})

		for _, path := range []string{"/api/orders", "/api/orders/123", "/api/orders/123/items"} {
			def, ok := r.FindByPath(path)
			if !ok {
				t.Errorf("path=%q がマッチしない", path)
				continue
			}
			if def.ID != "col-1" {
				t.Errorf("path=%q: ID = %q, want %q", path, def.ID, "col-1")
			}
		}
	})

	t.Run("単一セグメントのワイルドカードは直下のみマッチすること", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		r.Add(Definition{ID: "col-1", Path: "/api/orders/*"})

		if _, ok := r.FindByPath("/api/orders/123"); !ok {
			t.Error("/api/orders/123 がマッチしない")
		}
		if _, ok := r.FindByPath("/api/orders/123/items"); ok {
			t.Error("/api/orders/123/items がマッチしてしまう")
		}
		if _, ok := r.FindByPath("/api/orders"); ok {
			t.Error("/api/orders がマッチしてしまう")
		}
	})

	t.Run("最も具体的なパターンが優先されること", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		r.Add(Definition{ID: "generic", Path: "/api/**"})
		r.Add(Definition{ID: "specific", Path: "/api/orders/**"})

		def, ok := r.FindByPath("/api/orders/123")
		if !ok {
			t.Fatal("ルートがマッチしない")
		}
		if def.ID != "specific" {
			t.Errorf("ID = %q, want %q", def.ID, "specific")
		}
	})

	t.Run("具体性が同じ場合は後から登録されたルートが優先されること", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		r.Add(Definition{ID: "first", Path: "/api/orders/**"})
		r.Add(Definition{ID: "second", Path: "/api/orders/**"})

		def, ok := r.FindByPath("/api/orders/1")
		if !ok {
			t.Fatal("ルートがマッチしない")
		}
		if def.ID != "second" {
			t.Errorf("ID = %q, want %q", def.ID, "second")
		}
	})

	t.Run("マッチしないパスはfalseを返すこと", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		r.Add(Definition{ID: "col-1", Path: "/api/orders/**"})

		if _, ok := r.FindByPath("/api/products/1"); ok {
			t.Error("無関係のパスがマッチしてしまう")
		}
		if _, ok := r.FindByPath(""); ok {
			t.Error("空のパスがマッチしてしまう")
		}
	})

	t.Run("プレフィックスが部分一致するだけのパスはマッチしないこと", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		r.Add(Definition{ID: "col-1", Path: "/api/orders/**"})

		if _, ok := r.FindByPath("/api/orders-archive/1"); ok {
			t.Error("/api/orders-archive/1 がマッチしてしまう")
		}
	})
}

// TestRegistryFindByCollectionName はコレクション名での検索を検証する。
func TestRegistryFindByCollectionName(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Add(Definition{ID: "col-1", Path: "/api/orders/**", CollectionName: "orders"})

	t.Run("コレクション名でルートを取得できること", func(t *testing.T) {
		t.Parallel()

		def, ok := r.FindByCollectionName("orders")
		if !ok {
			t.Fatal("コレクション名で取得できない")
		}
		if def.ID != "col-1" {
			t.Errorf("ID = %q, want %q", def.ID, "col-1")
		}
	})

	t.Run("存在しないコレクション名はfalseを返すこと", func(t *testing.T) {
		t.Parallel()

		if _, ok := r.FindByCollectionName("unknown"); ok {
			t.Error("存在しないコレクション名で取得できてしまう")
		}
	})
}
