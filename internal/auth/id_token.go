package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/whiteboard/internal/model"
)

const (
	defaultCertsTTL   = time.Hour
	defaultFetchLimit = 1 << 20
)

var (
	// ErrInvalidToken はIDトークンの検証に失敗した場合に返される。
	ErrInvalidToken = errors.New("invalid id token")
	// ErrCertsUnavailable はIdPの公開証明書を取得できなかった場合に返される。
	ErrCertsUnavailable = errors.New("identity provider certificates unavailable")
)

// IDTokenVerifierConfig はIDトークン検証の設定。
type IDTokenVerifierConfig struct {
	ProjectID string // audience として検証される
	Issuer    string
	CertsURL  string // kid -> PEM証明書 のJSONを返すエンドポイント

	HTTPClient *http.Client
	Now        func() time.Time
}

// IDTokenVerifier はIdPが発行したRS256署名のIDトークンを検証する。
// 公開証明書はCache-Controlのmax-ageに従ってキャッシュする。
// キャッシュが有効な間は未知のkidでも再取得せず、同時の再取得は1回にまとめる。
type IDTokenVerifier struct {
	config IDTokenVerifierConfig

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time

	fetches singleflight.Group
}

// idTokenClaims はIDトークンのクレーム。
type idTokenClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// NewIDTokenVerifier はIDTokenVerifierを生成する。
func NewIDTokenVerifier(config IDTokenVerifierConfig) *IDTokenVerifier {
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Issuer == "" {
		config.Issuer = "https://securetoken.google.com/" + config.ProjectID
	}
	return &IDTokenVerifier{config: config}
}

// Verify はIDトークンを検証し、トークンに含まれるユーザー識別情報を返す。
// 署名・発行者・audience・有効期限のいずれかが不正な場合はErrInvalidTokenを返す。
func (v *IDTokenVerifier) Verify(ctx context.Context, rawToken string) (*model.Identity, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims := &idTokenClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims,
		func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, fmt.Errorf("%w: missing kid header", ErrInvalidToken)
			}
			return v.publicKey(ctx, kid)
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.config.Issuer),
		jwt.WithAudience(v.config.ProjectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.config.Now),
	)
	if err != nil {
		if errors.Is(err, ErrCertsUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}

	return &model.Identity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
	}, nil
}

// publicKey はkidに対応する公開鍵を返す。
// 証明書はキャッシュが期限切れの場合のみ再取得する。
// キャッシュが有効な間の未知のkidはIdPへ問い合わせずに拒否する。
func (v *IDTokenVerifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	fresh := v.freshLocked()
	v.mu.RUnlock()

	if fresh {
		if !ok {
			return nil, fmt.Errorf("%w: unknown kid %q", ErrInvalidToken, kid)
		}
		return key, nil
	}

	_, err, _ := v.fetches.Do("certs", func() (any, error) {
		v.mu.RLock()
		fresh := v.freshLocked()
		v.mu.RUnlock()
		// 待機中に別の呼び出しが更新を終えていれば取得しない
		if fresh {
			return nil, nil
		}
		return nil, v.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	key, ok = v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kid %q", ErrInvalidToken, kid)
	}
	return key, nil
}

// freshLocked はキャッシュ済みの証明書が有効期限内かを返す。v.muを保持して呼ぶ。
func (v *IDTokenVerifier) freshLocked() bool {
	return v.keys != nil && v.config.Now().Before(v.expiresAt)
}

// refresh はIdPから公開証明書を取得してキャッシュを更新する。
func (v *IDTokenVerifier) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.config.CertsURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCertsUnavailable, err)
	}

	resp, err := v.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCertsUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrCertsUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, defaultFetchLimit))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCertsUnavailable, err)
	}

	var certs map[string]string
	if err := json.Unmarshal(body, &certs); err != nil {
		return fmt.Errorf("%w: %v", ErrCertsUnavailable, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, pemCert := range certs {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemCert))
		if err != nil {
			return fmt.Errorf("%w: certificate %s: %v", ErrCertsUnavailable, kid, err)
		}
		keys[kid] = key
	}

	v.mu.Lock()
	v.keys = keys
	v.expiresAt = v.config.Now().Add(maxAge(resp.Header.Get("Cache-Control")))
	v.mu.Unlock()

	return nil
}

// maxAge はCache-Controlヘッダーのmax-ageを返す。指定が無い場合はデフォルト値。
func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.Atoi(value)
		if err != nil || seconds <= 0 {
			return defaultCertsTTL
		}
		return time.Duration(seconds) * time.Second
	}
	return defaultCertsTTL
}

// compile-time interface check
var _ TokenVerifier = (*IDTokenVerifier)(nil)
