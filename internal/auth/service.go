package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/hitoshi/musicroom/internal/model"
	"github.com/hitoshi/musicroom/internal/repository"
	"github.com/hitoshi/musicroom/internal/security"
)

// MaxEmailLength はメールアドレスの最大長。
const MaxEmailLength = 254

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	User        *model.User
	AccessToken string
	ExpiresAt   time.Time
}

// Service はローカル方式のユーザー登録とログインを担う。
type Service struct {
	users  repository.UserRepository
	hasher *PasswordHasher
	policy security.PasswordPolicy
	issuer *TokenIssuer
}

// NewService はServiceを生成する。
func NewService(users repository.UserRepository, hasher *PasswordHasher, policy security.PasswordPolicy, issuer *TokenIssuer) *Service {
	return &Service{users: users, hasher: hasher, policy: policy, issuer: issuer}
}

// NormalizeEmail は前後の空白を除き小文字にしたメールアドレスを返す。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail はメールアドレスの書式を検証する。
func ValidateEmail(email string) error {
	if email == "" {
		return model.NewValidationError("email is required")
	}
	if len(email) > MaxEmailLength {
		return model.NewValidationError(fmt.Sprintf("email must be at most %d characters", MaxEmailLength))
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return model.NewValidationError("email is not a valid address")
	}
	return nil
}

// Register はユーザーを登録する。
// メールアドレスの書式とパスワードポリシーの違反はValidationError、
// 登録済みのメールアドレスはEmailAlreadyRegisteredErrorを返す。
func (s *Service) Register(ctx context.Context, email, password string) (*model.User, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := s.policy.Validate(password); err != nil {
		return nil, err
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailAlreadyRegisteredError()
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Create(ctx, email, hash)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailAlreadyRegisteredError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered", slog.Int64("user_id", user.ID))
	return user, nil
}

// Login はメールアドレスとパスワードを照合し、アクセストークンを発行する。
// アカウントが存在しない場合もパスワード不一致と同じエラーを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = NormalizeEmail(email)

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		s.hasher.CompareDummy(password)
		return nil, model.NewInvalidCredentialsError()
	}
	if !s.hasher.Compare(user.PasswordHash, password) {
		return nil, model.NewInvalidCredentialsError()
	}

	token, expiresAt, err := s.issuer.Issue(user)
	if err != nil {
		return nil, err
	}

	return &LoginResult{User: user, AccessToken: token, ExpiresAt: expiresAt}, nil
}

// TokenTTL は発行するトークンの有効期間を返す。
func (s *Service) TokenTTL() time.Duration {
	return s.issuer.TTL()
}
