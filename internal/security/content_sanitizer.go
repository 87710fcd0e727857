// Package security は入力の検証・無害化とアップロードファイルの判定を提供する。
//
// ContentSanitizerService はユーザーが入力するリッチテキスト（リソースの説明文）を
// 許可リストベースのbluemondayポリシーで無害化する。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はHTMLコンテンツのサニタイズ機能のインターフェースを定義する。
type ContentSanitizerService interface {
	// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
	// 許可タグ以外は除去し、script/styleは中身ごと削除する。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawHTML string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのPolicyは構築後は並行利用できる。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はリッチテキスト用のContentSanitizerServiceを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, strong, b, em, i, u, h1〜h6, ul, ol, li, a, blockquote, pre, code
//   - 許可属性: href, target, rel のみ（on*イベント属性やstyleは除去）
//   - URLスキーム: http, https, mailto と相対URL（javascript:, data: は除去）
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "strong", "b", "em", "i", "u",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li", "a",
		"blockquote", "pre", "code",
	)

	p.AllowAttrs("href", "target", "rel").Globally()
	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(true)

	return &contentSanitizer{
		policy: p,
	}
}

// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
