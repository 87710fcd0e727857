package security

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/hitoshi/musicroom/internal/model"
)

// 入力長の上限（文字数）
const (
	MaxNameLength        = 200
	MaxDescriptionLength = 10000
	MaxURLLength         = 2048
	MaxFilenameLength    = 255
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Validator はユーザー入力を検証し、保存・表示に安全な形へ変換する。
// 不正な入力はValidationError（*model.APIError）として返す。
type Validator struct {
	sanitizer ContentSanitizerService
}

// NewValidator はValidatorを生成する。
func NewValidator(sanitizer ContentSanitizerService) *Validator {
	return &Validator{sanitizer: sanitizer}
}

// Name はページ名を検証する。前後の空白を除き1〜200文字、HTMLエスケープして返す。
func (v *Validator) Name(value string) (string, error) {
	return plainText("name", value)
}

// Title はリソースのタイトルを検証する。規則はNameと同じ。
func (v *Validator) Title(value string) (string, error) {
	return plainText("title", value)
}

// Description は任意の説明文を検証し、許可されたHTMLのみを残して返す。
// 空（空白のみを含む）の場合は空文字列を返す。
func (v *Validator) Description(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", nil
	}
	if utf8.RuneCountInString(trimmed) > MaxDescriptionLength {
		return "", model.NewValidationError(fmt.Sprintf("description must be at most %d characters", MaxDescriptionLength))
	}
	return v.sanitizer.Sanitize(trimmed), nil
}

// URL は任意の外部URLを検証する。スキームがなければhttp://を補い、
// http/httpsかつホストを持つものだけを受け付ける。空の場合は空文字列を返す。
func (v *Validator) URL(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", nil
	}
	if len(trimmed) > MaxURLLength {
		return "", model.NewValidationError(fmt.Sprintf("url must be at most %d characters", MaxURLLength))
	}

	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", model.NewValidationError("url is malformed")
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", model.NewValidationError("url scheme must be http or https")
	}
	if u.Hostname() == "" {
		return "", model.NewValidationError("url must include a host")
	}

	return trimmed, nil
}

// SanitizeFilename はクライアントから渡されたファイル名を安全な単一セグメントに変換する。
// ディレクトリ部分を捨て、英数字と . _ - 以外を除去し、255文字に切り詰める。
// ドットだけが残った場合は空文字列を返す。
func SanitizeFilename(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	if len(name) > MaxFilenameLength {
		name = name[:MaxFilenameLength]
	}
	if strings.Trim(name, ".") == "" {
		return ""
	}
	return name
}

func plainText(field, value string) (string, error) {
	trimmed := strings.TrimSpace(norm.NFC.String(value))
	if trimmed == "" {
		return "", model.NewValidationError(fmt.Sprintf("%s must not be empty", field))
	}
	if utf8.RuneCountInString(trimmed) > MaxNameLength {
		return "", model.NewValidationError(fmt.Sprintf("%s must be at most %d characters", field, MaxNameLength))
	}
	return html.EscapeString(trimmed), nil
}
