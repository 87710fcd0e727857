package auth

import (
	"context"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/musicroom/internal/model"
)

// 方式ごとのフォールバックCookie名。
const (
	LocalCookieName     = "access_token"
	DelegatedCookieName = "sb-access-token"
	DelegatedAudience   = "authenticated"
)

// Verifier はベアラートークンを検証して主体を解決する。
type Verifier interface {
	// Verify はトークンを検証し、解決した主体を返す。
	// 失敗時のエラーはErrInvalidToken、ErrTokenExpired、ErrMissingSubject、ErrUserNotFoundのいずれかをラップする。
	Verify(ctx context.Context, token string) (*model.Identity, error)

	// ValidateSignature は署名と有効期限（委譲方式ではaudienceも）だけを検証する。
	// ストアを参照しないため、CSRFガードから呼び出す。
	ValidateSignature(token string) error

	// CookieName はAuthorizationヘッダーがない場合に参照するCookie名。
	CookieName() string
}

// UserFinder はローカル方式でsubからユーザーを引くためのインターフェース。
// repository.UserRepositoryの部分集合。
type UserFinder interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
}

// LocalVerifier は自前で発行したトークンを検証する。subは整数のユーザーIDで、
// そのユーザーがストアに存在しなければならない。
type LocalVerifier struct {
	parser *tokenParser
	users  UserFinder
}

// NewLocalVerifier はLocalVerifierを生成する。
func NewLocalVerifier(secret, alg string, users UserFinder) (*LocalVerifier, error) {
	p, err := newTokenParser(secret, alg)
	if err != nil {
		return nil, err
	}
	return &LocalVerifier{parser: p, users: users}, nil
}

// Verify はVerifierの実装。
func (v *LocalVerifier) Verify(ctx context.Context, token string) (*model.Identity, error) {
	claims, err := v.parser.parse(token)
	if err != nil {
		return nil, err
	}

	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: non-numeric subject", ErrInvalidToken)
	}

	user, err := v.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	return &model.Identity{UserID: user.ID, Email: user.Email}, nil
}

// ValidateSignature はVerifierの実装。
func (v *LocalVerifier) ValidateSignature(token string) error {
	_, err := v.parser.parse(token)
	return err
}

// CookieName はVerifierの実装。
func (v *LocalVerifier) CookieName() string {
	return LocalCookieName
}

// DelegatedVerifier は外部IdPが発行したトークンを検証する。
// audienceが一致し、subが存在すればストアを参照せずに受け入れる。
type DelegatedVerifier struct {
	parser     *tokenParser
	cookieName string
}

// NewDelegatedVerifier はDelegatedVerifierを生成する。audienceとcookieNameが空の場合は既定値を使う。
func NewDelegatedVerifier(secret, alg, audience, cookieName string) (*DelegatedVerifier, error) {
	if audience == "" {
		audience = DelegatedAudience
	}
	if cookieName == "" {
		cookieName = DelegatedCookieName
	}
	p, err := newTokenParser(secret, alg, jwt.WithAudience(audience))
	if err != nil {
		return nil, err
	}
	return &DelegatedVerifier{parser: p, cookieName: cookieName}, nil
}

// Verify はVerifierの実装。
func (v *DelegatedVerifier) Verify(_ context.Context, token string) (*model.Identity, error) {
	claims, err := v.parser.parse(token)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return &model.Identity{ExternalSubject: claims.Subject, Email: claims.Email}, nil
}

// ValidateSignature はVerifierの実装。
func (v *DelegatedVerifier) ValidateSignature(token string) error {
	_, err := v.parser.parse(token)
	return err
}

// CookieName はVerifierの実装。
func (v *DelegatedVerifier) CookieName() string {
	return v.cookieName
}

var (
	_ Verifier = (*LocalVerifier)(nil)
	_ Verifier = (*DelegatedVerifier)(nil)
)
