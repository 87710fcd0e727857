package model

import (
	"strconv"
	"time"
)

// User はローカル認証方式で登録されたユーザーを表す。
type User struct {
	ID           int64     `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

// Identity は認証済みリクエストの主体を表す。
// ローカル方式ではUserIDとEmail、委譲方式ではExternalSubjectが設定される。
// 両方が同時に設定されることはない。
type Identity struct {
	UserID          int64
	ExternalSubject string
	Email           string
}

// IsLocal はローカル方式で認証された主体かどうかを返す。
func (i *Identity) IsLocal() bool {
	return i.ExternalSubject == ""
}

// Subject はログやレート制限キーに使う主体識別子を返す。
func (i *Identity) Subject() string {
	if i.IsLocal() {
		return strconv.FormatInt(i.UserID, 10)
	}
	return i.ExternalSubject
}

// LegacyAccount は旧ユーザーディレクトリのアカウントを表す。
type LegacyAccount struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
}
