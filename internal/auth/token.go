// Package auth はベアラートークンの発行と検証、パスワード認証を提供する。
//
// 認証方式はプロセス起動時に1つだけ選ぶ。ローカル方式は自前で発行したトークンの
// subをユーザーIDとして解決し、委譲方式は外部IdPが発行したトークンのsubを
// そのまま外部主体IDとして扱う。
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/musicroom/internal/model"
)

// 検証失敗の理由。クライアントには汎用文言のみを返し、理由はログにだけ残す。
var (
	ErrNoToken        = errors.New("no bearer token")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
	ErrMissingSubject = errors.New("missing subject")
	ErrUserNotFound   = errors.New("user not found")
)

// Claims はトークンのペイロード。
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// SigningMethod はアルゴリズム名から対称鍵の署名方式を返す。
func SigningMethod(alg string) (jwt.SigningMethod, error) {
	switch alg {
	case "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}
}

// TokenIssuer はローカル方式のアクセストークンを発行する。
type TokenIssuer struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(secret, alg string, ttl time.Duration) (*TokenIssuer, error) {
	method, err := SigningMethod(alg)
	if err != nil {
		return nil, err
	}
	return &TokenIssuer{secret: []byte(secret), method: method, ttl: ttl, now: time.Now}, nil
}

// TTL はトークンの有効期間を返す。Cookieの Max-Age に使う。
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue はユーザーのアクセストークンと有効期限を返す。
func (i *TokenIssuer) Issue(user *model.User) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)

	token := jwt.NewWithClaims(i.method, Claims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// tokenParser は署名方式とオプションを固定したパーサー。
type tokenParser struct {
	secret []byte
	parser *jwt.Parser
}

func newTokenParser(secret, alg string, opts ...jwt.ParserOption) (*tokenParser, error) {
	method, err := SigningMethod(alg)
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithExpirationRequired(),
	)
	return &tokenParser{secret: []byte(secret), parser: jwt.NewParser(opts...)}, nil
}

// parse は署名、有効期限、（設定されていれば）audienceを検証してClaimsを返す。
// 失敗はErrTokenExpiredかErrInvalidTokenに分類する。
func (p *tokenParser) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := p.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
