package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func mintToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestParseIdentityToken(t *testing.T) {
	now := time.Now()
	valid := func() IdentityClaims {
		return IdentityClaims{
			UserID: "user-1",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "timeout-identity",
				Subject:   "user-1",
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		}
	}

	t.Run("valid token", func(t *testing.T) {
		token := mintToken(t, jwt.SigningMethodHS256, []byte(testSecret), valid())
		claims, err := ParseIdentityToken(token, testSecret, "timeout-identity")
		if err != nil {
			t.Fatal(err)
		}
		if claims.UserID != "user-1" {
			t.Errorf("UserID = %q", claims.UserID)
		}
	})

	t.Run("subject fallback", func(t *testing.T) {
		claims := valid()
		claims.UserID = ""
		token := mintToken(t, jwt.SigningMethodHS256, []byte(testSecret), claims)
		parsed, err := ParseIdentityToken(token, testSecret, "timeout-identity")
		if err != nil {
			t.Fatal(err)
		}
		if parsed.UserID != "user-1" {
			t.Errorf("UserID = %q, want subject fallback", parsed.UserID)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := mintToken(t, jwt.SigningMethodHS256, []byte("other"), valid())
		if _, err := ParseIdentityToken(token, testSecret, "timeout-identity"); err == nil {
			t.Error("accepted token signed with wrong secret")
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := valid()
		claims.Issuer = "someone-else"
		token := mintToken(t, jwt.SigningMethodHS256, []byte(testSecret), claims)
		if _, err := ParseIdentityToken(token, testSecret, "timeout-identity"); err == nil {
			t.Error("accepted token from wrong issuer")
		}
	})

	t.Run("expired", func(t *testing.T) {
		claims := valid()
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour))
		token := mintToken(t, jwt.SigningMethodHS256, []byte(testSecret), claims)
		if _, err := ParseIdentityToken(token, testSecret, "timeout-identity"); err == nil {
			t.Error("accepted expired token")
		}
	})

	t.Run("no user id", func(t *testing.T) {
		claims := valid()
		claims.UserID = ""
		claims.Subject = ""
		token := mintToken(t, jwt.SigningMethodHS256, []byte(testSecret), claims)
		if _, err := ParseIdentityToken(token, testSecret, "timeout-identity"); err == nil {
			t.Error("accepted token without user id")
		}
	})
}

func TestWebhookVerifier(t *testing.T) {
	rawKey := []byte("webhook-signing-key-0123456789ab")
	secret := "whsec_" + base64.StdEncoding.EncodeToString(rawKey)

	verifier, err := NewWebhookVerifier(secret)
	if err != nil {
		t.Fatal(err)
	}

	sign := func(id, ts string, body []byte) string {
		mac := hmac.New(sha256.New, rawKey)
		fmt.Fprintf(mac, "%s.%s.", id, ts)
		mac.Write(body)
		return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
	}

	body := []byte(`{"type":"user.created"}`)
	now := strconv.FormatInt(time.Now().Unix(), 10)

	t.Run("valid signature", func(t *testing.T) {
		if err := verifier.Verify("msg-1", now, sign("msg-1", now, body), body); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("multiple signature entries", func(t *testing.T) {
		header := "v1,bm90LXRoaXM= " + sign("msg-1", now, body)
		if err := verifier.Verify("msg-1", now, header, body); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		if err := verifier.Verify("msg-1", now, sign("msg-1", now, body), []byte(`{}`)); err == nil {
			t.Error("accepted tampered body")
		}
	})

	t.Run("wrong message id", func(t *testing.T) {
		if err := verifier.Verify("msg-2", now, sign("msg-1", now, body), body); err == nil {
			t.Error("accepted replayed signature")
		}
	})

	t.Run("stale timestamp", func(t *testing.T) {
		old := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
		if err := verifier.Verify("msg-1", old, sign("msg-1", old, body), body); err == nil {
			t.Error("accepted stale timestamp")
		}
	})

	t.Run("missing headers", func(t *testing.T) {
		if err := verifier.Verify("", now, "", body); err == nil {
			t.Error("accepted missing headers")
		}
	})
}

func TestNewWebhookVerifierRejectsBadSecret(t *testing.T) {
	if _, err := NewWebhookVerifier(""); err == nil {
		t.Error("accepted empty secret")
	}
	if _, err := NewWebhookVerifier("whsec_!!!"); err == nil {
		t.Error("accepted undecodable secret")
	}
}
