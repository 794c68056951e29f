// Package auth はIDトークン検証、OAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/whiteboard/internal/model"
	"github.com/hitoshi/whiteboard/internal/repository"
)

// 認証方式（メトリクスのラベル）
const (
	MethodIDToken = "id_token"
	MethodOAuth   = "oauth"
)

// TokenVerifier はIdPが発行したIDトークンの検証インターフェース。
type TokenVerifier interface {
	Verify(ctx context.Context, idToken string) (*model.Identity, error)
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー識別情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*model.Identity, error)
}

// MetricsRecorder は認証結果を記録するインターフェース。
type MetricsRecorder interface {
	RecordAuthAttempt(method, result string)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	verifier    TokenVerifier
	oauth       OAuthProvider // nilの場合OAuthフローは無効
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	metrics     MetricsRecorder
	now         func() time.Time
}

// NewService はServiceを生成する。oauthはnilでもよい。
func NewService(
	verifier TokenVerifier,
	oauth OAuthProvider,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		verifier:    verifier,
		oauth:       oauth,
		sessionRepo: sessionRepo,
		config:      config,
		now:         time.Now,
	}
}

// SetMetrics はメトリクス記録先を設定する。
func (s *Service) SetMetrics(m MetricsRecorder) {
	s.metrics = m
}

// OAuthEnabled はサーバーサイドOAuthフローが利用可能かを返す。
func (s *Service) OAuthEnabled() bool {
	return s.oauth != nil
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	if s.oauth == nil {
		return ""
	}
	return s.oauth.GetLoginURL(state)
}

// VerifyIDToken はIDトークンを検証し、成功した場合はセッションを発行する。
// 検証失敗はINVALID_TOKEN、証明書取得失敗はBACKEND_UNAVAILABLEのAPIErrorを返す。
func (s *Service) VerifyIDToken(ctx context.Context, idToken string) (*model.Session, error) {
	identity, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		if errors.Is(err, ErrCertsUnavailable) {
			s.record(MethodIDToken, "unavailable")
			slog.Error("identity provider unavailable", slog.String("error", err.Error()))
			return nil, model.NewBackendUnavailableError()
		}
		s.record(MethodIDToken, "invalid")
		slog.Info("id token verification failed", slog.String("error", err.Error()))
		return nil, model.NewInvalidTokenError()
	}

	session, err := s.createSession(ctx, *identity)
	if err != nil {
		s.record(MethodIDToken, "error")
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.record(MethodIDToken, "success")
	slog.Info("user signed in",
		slog.String("user_id", identity.Subject),
		slog.String("method", MethodIDToken),
	)
	return session, nil
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if s.oauth == nil {
		return nil, fmt.Errorf("oauth login is not configured")
	}

	identity, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		s.record(MethodOAuth, "invalid")
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	session, err := s.createSession(ctx, *identity)
	if err != nil {
		s.record(MethodOAuth, "error")
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.record(MethodOAuth, "success")
	slog.Info("user signed in",
		slog.String("user_id", identity.Subject),
		slog.String("method", MethodOAuth),
	)
	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, identity model.Identity) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		Identity:  identity,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

func (s *Service) record(method, result string) {
	if s.metrics != nil {
		s.metrics.RecordAuthAttempt(method, result)
	}
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateState はOAuthのstateパラメータ用のランダム文字列を生成する。
func GenerateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
