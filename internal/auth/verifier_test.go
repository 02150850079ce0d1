package auth

import (
	"context"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// newTestVerifier はテスト用のJWKSサーバーとVerifierを生成する。
func newTestVerifier(t *testing.T, kid string, pub *rsa.PublicKey) *Verifier {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jwksBody(t, kid, pub))
	}))
	t.Cleanup(ts.Close)

	jwks := NewJwksCache([]Provider{{ID: "idp", JwksURL: ts.URL}}, time.Minute)
	return NewVerifier(jwks, "admin", "admin")
}

// signToken は指定したクレームとkidでRS256署名済みトークンを生成する。
func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("トークンの署名に失敗: %v", err)
	}
	return signed
}

// TestVerifierVerify はトークン検証とPrincipal構築を検証する。
func TestVerifierVerify(t *testing.T) {
	t.Parallel()

	t.Run("有効なトークンからPrincipalが構築されること", func(t *testing.T) {
		t.Parallel()

		key := generateTestKey(t)
		v := newTestVerifier(t, "key-1", &key.PublicKey)

		tokenString := signToken(t, key, "key-1", jwt.MapClaims{
			"sub":                "user-1",
			"preferred_username": "alice",
			"tenant_id":          "tenant-a",
			"roles":              []string{"editor"},
			"exp":                time.Now().Add(time.Hour).Unix(),
		})

		principal, err := v.Verify(context.Background(), tokenString)
		if err != nil {
			t.Fatalf("Verify()でエラーが発生: %v", err)
		}
		if principal.Username != "alice" {
			t.Errorf("Username = %q, want %q", principal.Username, "alice")
		}
		if principal.TenantID != "tenant-a" {
			t.Errorf("TenantID = %q, want %q", principal.TenantID, "tenant-a")
		}
		if want := []string{"editor"}; !reflect.DeepEqual(principal.Roles, want) {
			t.Errorf("Roles = %v, want %v", principal.Roles, want)
		}
	})

	t.Run("preferred_usernameがない場合はsubが使われること", func(t *testing.T) {
		t.Parallel()

		key := generateTestKey(t)
		v := newTestVerifier(t, "key-1", &key.PublicKey)

		tokenString := signToken(t, key, "key-1", jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		principal, err := v.Verify(context.Background(), tokenString)
		if err != nil {
			t.Fatalf("Verify()でエラーが発生: %v", err)
		}
		if principal.Username != "user-1" {
			t.Errorf("Username = %q, want %q", principal.Username, "user-1")
		}
	})

	t.Run("期限切れのトークンは拒否されること", func(t *testing.T) {
		t.Parallel()

		key := generateTestKey(t)
		v := newTestVerifier(t, "key-1", &key.PublicKey)

		tokenString := signToken(t, key, "key-1", jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})

		if _, err := v.Verify(context.Background(), tokenString); err == nil {
			t.Error("期限切れトークンが受理されてしまった")
		}
	})

	t.Run("expクレームのないトークンは拒否されること", func(t *testing.T) {
		t.Parallel()

		key := generateTestKey(t)
		v := newTestVerifier(t, "key-1", &key.PublicKey)

		tokenString := signToken(t, key, "key-1", jwt.MapClaims{"sub": "user-1"})

		if _, err := v.Verify(context.Background(), tokenString); err == nil {
			t.Error("expなしトークンが受理されてしまった")
		}
	})

	t.Run("別の鍵で署名されたトークンは拒否されること", func(t *testing.T) {
		t.Parallel()

		key := generateTestKey(t)
		otherKey := generateTestKey(t)
		v := newTestVerifier(t, "key-1", &key.PublicKey)

		tokenString := signToken(t, otherKey, "key-1", jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		if _, err := v.Verify(context.Background(), tokenString); err == nil {
			t.Error("不正な署名のトークンが受理されてしまった")
		}
	})

	t.Run("HMAC署名のトークンは拒否されること", func(t *testing.T) {
		t.Parallel()

		key := generateTestKey(t)
		v := newTestVerifier(t, "key-1", &key.PublicKey)

		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		tokenString, err := token.SignedString([]byte("shared-secret"))
		if err != nil {
			t.Fatalf("トークンの署名に失敗: %v", err)
		}

		if _, err := v.Verify(context.Background(), tokenString); err == nil {
			t.Error("HMAC署名のトークンが受理されてしまった")
		}
	})

	t.Run("未知のkidのトークンは拒否されること", func(t *testing.T) {
		t.Parallel()

		key := generateTestKey(t)
		v := newTestVerifier(t, "key-1", &key.PublicKey)

		tokenString := signToken(t, key, "unknown-kid", jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		if _, err := v.Verify(context.Background(), tokenString); err == nil {
			t.Error("未知のkidのトークンが受理されてしまった")
		}
	})

	t.Run("kidのないトークンは鍵が1つのプロバイダで検証されること", func(t *testing.T) {
		t.Parallel()

		key := generateTestKey(t)
		v := newTestVerifier(t, "key-1", &key.PublicKey)

		tokenString := signToken(t, key, "", jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		if _, err := v.Verify(context.Background(), tokenString); err != nil {
			t.Errorf("kidなしトークンが拒否された: %v", err)
		}
	})

	t.Run("subもpreferred_usernameもないトークンは拒否されること", func(t *testing.T) {
		t.Parallel()

		key := generateTestKey(t)
		v := newTestVerifier(t, "key-1", &key.PublicKey)

		tokenString := signToken(t, key, "key-1", jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		if _, err := v.Verify(context.Background(), tokenString); err == nil {
			t.Error("識別名のないトークンが受理されてしまった")
		}
	})
}
