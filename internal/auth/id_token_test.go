package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testProjectID = "whiteboard-test"

// testSigner はテスト用のRSA鍵と自己署名証明書を保持する。
type testSigner struct {
	kid     string
	key     *rsa.PrivateKey
	certPEM string
}

func newTestSigner(t *testing.T, kid string) *testSigner {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "securetoken.system.gserviceaccount.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	return &testSigner{kid: kid, key: key, certPEM: string(certPEM)}
}

func (s *testSigner) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.kid
	signed, err := token.SignedString(s.key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   "https://securetoken.google.com/" + testProjectID,
		"aud":   testProjectID,
		"sub":   "uid-123",
		"email": "alice@example.com",
		"name":  "Alice",
		"iat":   now.Add(-time.Minute).Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
}

// newCertsServer は証明書JSONを返すテストサーバーを起動し、リクエスト回数カウンタを返す。
func newCertsServer(t *testing.T, cacheControl string, signers ...*testSigner) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		certs := make(map[string]string)
		for _, s := range signers {
			certs[s.kid] = s.certPEM
		}
		if cacheControl != "" {
			w.Header().Set("Cache-Control", cacheControl)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(certs)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestVerifier(certsURL string) *IDTokenVerifier {
	return NewIDTokenVerifier(IDTokenVerifierConfig{
		ProjectID: testProjectID,
		CertsURL:  certsURL,
	})
}

func TestIDTokenVerifier_ValidToken_ReturnsIdentity(t *testing.T) {
	signer := newTestSigner(t, "kid-1")
	srv, _ := newCertsServer(t, "public, max-age=3600", signer)
	v := newTestVerifier(srv.URL)

	identity, err := v.Verify(context.Background(), signer.sign(t, validClaims()))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if identity.Subject != "uid-123" {
		t.Errorf("Subject = %q, want %q", identity.Subject, "uid-123")
	}
	if identity.Email != "alice@example.com" || identity.Name != "Alice" {
		t.Errorf("identity = %+v", identity)
	}
}

func TestIDTokenVerifier_InvalidTokens(t *testing.T) {
	signer := newTestSigner(t, "kid-1")
	other := newTestSigner(t, "kid-other")
	srv, _ := newCertsServer(t, "max-age=3600", signer)
	v := newTestVerifier(srv.URL)

	withClaim := func(key string, value interface{}) jwt.MapClaims {
		c := validClaims()
		if value == nil {
			delete(c, key)
		} else {
			c[key] = value
		}
		return c
	}

	forged := newTestSigner(t, "kid-1") // 同じkidだが別の鍵

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"malformed", "not.a.jwt"},
		{"expired", signer.sign(t, withClaim("exp", time.Now().Add(-time.Minute).Unix()))},
		{"missing exp", signer.sign(t, withClaim("exp", nil))},
		{"wrong issuer", signer.sign(t, withClaim("iss", "https://evil.example.com"))},
		{"wrong audience", signer.sign(t, withClaim("aud", "other-project"))},
		{"empty subject", signer.sign(t, withClaim("sub", ""))},
		{"issued in future", signer.sign(t, withClaim("iat", time.Now().Add(time.Hour).Unix()))},
		{"unknown kid", other.sign(t, validClaims())},
		{"bad signature", forged.sign(t, validClaims())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestIDTokenVerifier_RejectsHS256(t *testing.T) {
	signer := newTestSigner(t, "kid-1")
	srv, _ := newCertsServer(t, "max-age=3600", signer)
	v := newTestVerifier(srv.URL)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	if _, err := v.Verify(context.Background(), signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() err = %v, want ErrInvalidToken", err)
	}
}

func TestIDTokenVerifier_CachesCertificates(t *testing.T) {
	signer := newTestSigner(t, "kid-1")
	srv, hits := newCertsServer(t, "public, max-age=3600", signer)
	v := newTestVerifier(srv.URL)

	for i := 0; i < 3; i++ {
		if _, err := v.Verify(context.Background(), signer.sign(t, validClaims())); err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
	}
	if got := atomic.LoadInt32(hits); got != 1 {
		t.Errorf("certificate fetches = %d, want 1", got)
	}
}

func TestIDTokenVerifier_UnknownKidWithFreshCache_DoesNotRefetch(t *testing.T) {
	signer := newTestSigner(t, "kid-1")
	srv, hits := newCertsServer(t, "public, max-age=3600", signer)
	v := newTestVerifier(srv.URL)

	if _, err := v.Verify(context.Background(), signer.sign(t, validClaims())); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	forged := newTestSigner(t, "forged")
	for i := 0; i < 50; i++ {
		forged.kid = fmt.Sprintf("forged-%d", i)
		if _, err := v.Verify(context.Background(), forged.sign(t, validClaims())); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Verify() err = %v, want ErrInvalidToken", err)
		}
	}

	if got := atomic.LoadInt32(hits); got != 1 {
		t.Errorf("certificate fetches = %d, want 1", got)
	}
}

func TestIDTokenVerifier_ConcurrentColdStart_FetchesOnce(t *testing.T) {
	signer := newTestSigner(t, "kid-1")
	srv, hits := newCertsServer(t, "max-age=3600", signer)
	v := newTestVerifier(srv.URL)
	token := signer.sign(t, validClaims())

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := v.Verify(context.Background(), token); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Verify() error = %v", err)
	}
	if got := atomic.LoadInt32(hits); got != 1 {
		t.Errorf("certificate fetches = %d, want 1", got)
	}
}

func TestIDTokenVerifier_RefetchesAfterMaxAge(t *testing.T) {
	signer := newTestSigner(t, "kid-1")
	srv, hits := newCertsServer(t, "max-age=60", signer)

	now := time.Now()
	v := NewIDTokenVerifier(IDTokenVerifierConfig{
		ProjectID: testProjectID,
		CertsURL:  srv.URL,
		Now:       func() time.Time { return now },
	})

	token := signer.sign(t, validClaims())
	if _, err := v.Verify(context.Background(), token); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := v.Verify(context.Background(), token); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got := atomic.LoadInt32(hits); got != 2 {
		t.Errorf("certificate fetches = %d, want 2", got)
	}
}

func TestIDTokenVerifier_CertsEndpointDown_ReturnsCertsUnavailable(t *testing.T) {
	signer := newTestSigner(t, "kid-1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	v := newTestVerifier(srv.URL)

	_, err := v.Verify(context.Background(), signer.sign(t, validClaims()))
	if !errors.Is(err, ErrCertsUnavailable) {
		t.Errorf("Verify() err = %v, want ErrCertsUnavailable", err)
	}
}

func TestMaxAge(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"public, max-age=19302, must-revalidate, no-transform", 19302 * time.Second},
		{"max-age=60", time.Minute},
		{"no-cache", defaultCertsTTL},
		{"max-age=abc", defaultCertsTTL},
		{"", defaultCertsTTL},
	}
	for _, tt := range tests {
		if got := maxAge(tt.header); got != tt.want {
			t.Errorf("maxAge(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}
