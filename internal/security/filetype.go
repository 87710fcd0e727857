package security

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/hitoshi/musicroom/internal/model"
)

// FileCategory はアップロードファイルの大分類。
type FileCategory string

const (
	CategoryPhoto    FileCategory = "photo"
	CategoryVideo    FileCategory = "video"
	CategoryDocument FileCategory = "document"
)

// minSignatureBytes は判定に必要な最小バイト数。
const minSignatureBytes = 12

// SniffLength は判定のために先頭から読み込むべきバイト数。
// docxのマーカー探索範囲と一致させる。
const SniffLength = 1024

// FileInfo はマジックバイトから判定したファイル種別。
type FileInfo struct {
	MIME      string
	Extension string
	Category  FileCategory
}

// signature はマジックバイト定義。matchが非nilの場合は追加の判定を行う。
type signature struct {
	magic    []byte
	offset   int
	mime     string
	ext      string
	category FileCategory
	match    func(head []byte) bool
}

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// signatures は判定順に並べたマジックバイト定義。
var signatures = []signature{
	// Images
	{magic: []byte{0xFF, 0xD8, 0xFF}, mime: "image/jpeg", ext: ".jpg", category: CategoryPhoto},
	{magic: []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, mime: "image/png", ext: ".png", category: CategoryPhoto},
	{magic: []byte("GIF87a"), mime: "image/gif", ext: ".gif", category: CategoryPhoto},
	{magic: []byte("GIF89a"), mime: "image/gif", ext: ".gif", category: CategoryPhoto},
	{magic: []byte("RIFF"), mime: "image/webp", ext: ".webp", category: CategoryPhoto, match: riffForm("WEBP")},
	{magic: []byte("BM"), mime: "image/bmp", ext: ".bmp", category: CategoryPhoto},
	{magic: []byte{'I', 'I', 0x2A, 0x00}, mime: "image/tiff", ext: ".tiff", category: CategoryPhoto},
	{magic: []byte{'M', 'M', 0x00, 0x2A}, mime: "image/tiff", ext: ".tiff", category: CategoryPhoto},

	// Videos
	{magic: []byte("ftyp"), offset: 4, mime: "video/quicktime", ext: ".mov", category: CategoryVideo, match: ftypBrand("qt  ")},
	{magic: []byte("ftyp"), offset: 4, mime: "video/mp4", ext: ".mp4", category: CategoryVideo},
	{magic: []byte("RIFF"), mime: "video/avi", ext: ".avi", category: CategoryVideo, match: riffForm("AVI ")},
	{magic: []byte("RIFF"), mime: "video/webm", ext: ".webm", category: CategoryVideo, match: riffForm("WEBM")},
	{magic: []byte{0x1A, 0x45, 0xDF, 0xA3}, mime: "video/webm", ext: ".webm", category: CategoryVideo},

	// Documents
	{magic: []byte("%PDF"), mime: "application/pdf", ext: ".pdf", category: CategoryDocument},
	{magic: []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, mime: "application/msword", ext: ".doc", category: CategoryDocument},
	{magic: []byte{'P', 'K', 0x03, 0x04}, mime: docxMIME, ext: ".docx", category: CategoryDocument, match: containsDocxMarker},
}

// allowedMIMETypes は分類ごとに申告を受け付けるMIMEタイプ。
var allowedMIMETypes = map[FileCategory]map[string]bool{
	CategoryPhoto: {
		"image/jpeg": true, "image/jpg": true, "image/png": true, "image/gif": true,
		"image/webp": true, "image/bmp": true, "image/tiff": true, "image/tif": true,
	},
	CategoryVideo: {
		"video/mp4": true, "video/avi": true, "video/x-msvideo": true,
		"video/quicktime": true, "video/webm": true,
	},
	CategoryDocument: {
		"application/pdf": true, "application/msword": true, docxMIME: true,
		"application/vnd.ms-word.document.macroEnabled.12": true,
	},
}

// allowedExtensions は分類ごとに受け付ける拡張子。
var allowedExtensions = map[FileCategory]map[string]bool{
	CategoryPhoto:    {".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".bmp": true, ".tiff": true, ".tif": true},
	CategoryVideo:    {".mp4": true, ".avi": true, ".mov": true, ".webm": true},
	CategoryDocument: {".pdf": true, ".doc": true, ".docx": true},
}

// equivalentMIME と equivalentExt は表記揺れとして同一視する組。
var (
	equivalentMIME = [][2]string{{"image/jpeg", "image/jpg"}, {"video/avi", "video/x-msvideo"}}
	equivalentExt  = [][2]string{{".jpg", ".jpeg"}, {".tiff", ".tif"}}
)

// SizeLimits は分類ごとのサイズ上限（バイト）。
type SizeLimits struct {
	Photo    int64
	Video    int64
	Document int64
	Default  int64
}

// DefaultSizeLimits は既定のサイズ上限を返す。
func DefaultSizeLimits() SizeLimits {
	return SizeLimits{
		Photo:    50 << 20,
		Video:    500 << 20,
		Document: 50 << 20,
		Default:  100 << 20,
	}
}

// For は分類に対応する上限を返す。
func (l SizeLimits) For(category FileCategory) int64 {
	switch category {
	case CategoryPhoto:
		return l.Photo
	case CategoryVideo:
		return l.Video
	case CategoryDocument:
		return l.Document
	default:
		return l.Default
	}
}

// Max はすべての分類の中で最大の上限を返す。リクエストボディの上限に使う。
func (l SizeLimits) Max() int64 {
	m := l.Default
	for _, v := range []int64{l.Photo, l.Video, l.Document} {
		if v > m {
			m = v
		}
	}
	return m
}

// FileValidator はアップロードファイルを内容（マジックバイト）で判定し、
// サイズ・申告MIMEタイプ・拡張子との整合性を検証する。
// 状態を持たないため並行利用できる。
type FileValidator struct {
	limits SizeLimits
}

// NewFileValidator はFileValidatorを生成する。
func NewFileValidator(limits SizeLimits) *FileValidator {
	return &FileValidator{limits: limits}
}

// Limits は設定されたサイズ上限を返す。
func (v *FileValidator) Limits() SizeLimits {
	return v.limits
}

// DetectType は先頭バイトからファイル種別を判定する。
// expectedが空でない場合はその分類の定義のみを照合する。
func DetectType(head []byte, expected FileCategory) (*FileInfo, bool) {
	if len(head) < minSignatureBytes {
		return nil, false
	}

	for _, sig := range signatures {
		if expected != "" && sig.category != expected {
			continue
		}
		end := sig.offset + len(sig.magic)
		if len(head) < end || !bytes.Equal(head[sig.offset:end], sig.magic) {
			continue
		}
		if sig.match != nil && !sig.match(head) {
			continue
		}
		return &FileInfo{MIME: sig.mime, Extension: sig.ext, Category: sig.category}, true
	}

	return nil, false
}

// Classify はファイル全体の内容を受け取りClassifyHeadと同じ検証を行う。
func (v *FileValidator) Classify(content []byte, declaredMIME, filename string, expected FileCategory) (*FileInfo, error) {
	return v.ClassifyHead(content, int64(len(content)), declaredMIME, filename, expected)
}

// ClassifyHead は先頭バイトと全体サイズからファイルを判定・検証する。
// headには少なくともSniffLengthバイト（ファイルがそれより短ければ全体）を渡す。
// 判定はマジックバイト、サイズ、申告MIMEタイプ、拡張子の順に行い、
// 最初に失敗した理由をInvalidFileエラーとして返す。
func (v *FileValidator) ClassifyHead(head []byte, size int64, declaredMIME, filename string, expected FileCategory) (*FileInfo, error) {
	info, ok := DetectType(head, expected)
	if !ok {
		return nil, model.NewInvalidFileError("file content does not match any supported format")
	}

	if size <= 0 {
		return nil, model.NewInvalidFileError("file is empty")
	}
	if limit := v.limits.For(info.Category); size > limit {
		return nil, model.NewInvalidFileError(fmt.Sprintf(
			"file size (%.2f MB) exceeds the %d MB limit for %s files",
			float64(size)/(1<<20), limit>>20, info.Category))
	}

	if mime := normalizeMIME(declaredMIME); mime != "" {
		if !allowedMIMETypes[info.Category][mime] {
			return nil, model.NewInvalidFileError(fmt.Sprintf("content type %q is not allowed for %s files", mime, info.Category))
		}
		if !equivalent(mime, info.MIME, equivalentMIME) {
			return nil, model.NewInvalidFileError(fmt.Sprintf("content type mismatch: declared %s, detected %s", mime, info.MIME))
		}
	}

	if ext := extensionOf(filename); ext != "" {
		if !allowedExtensions[info.Category][ext] {
			return nil, model.NewInvalidFileError(fmt.Sprintf("file extension %q is not allowed for %s files", ext, info.Category))
		}
		if !equivalent(ext, info.Extension, equivalentExt) {
			return nil, model.NewInvalidFileError(fmt.Sprintf("file extension mismatch: declared %s, detected %s", ext, info.Extension))
		}
	}

	return info, nil
}

func riffForm(form string) func([]byte) bool {
	return func(head []byte) bool {
		return string(head[8:12]) == form
	}
}

func ftypBrand(brand string) func([]byte) bool {
	return func(head []byte) bool {
		return string(head[8:12]) == brand
	}
}

func containsDocxMarker(head []byte) bool {
	if len(head) > SniffLength {
		head = head[:SniffLength]
	}
	return bytes.Contains(head, []byte("word/")) || bytes.Contains(head, []byte("[Content_Types].xml"))
}

func normalizeMIME(mime string) string {
	mime, _, _ = strings.Cut(mime, ";")
	return strings.ToLower(strings.TrimSpace(mime))
}

func extensionOf(filename string) string {
	if filename == "" {
		return ""
	}
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	ext := strings.ToLower(path.Ext(filename))
	if ext == "." || ext == filename {
		return ""
	}
	return ext
}

func equivalent(a, b string, pairs [][2]string) bool {
	if a == b {
		return true
	}
	for _, p := range pairs {
		if (a == p[0] && b == p[1]) || (a == p[1] && b == p[0]) {
			return true
		}
	}
	return false
}
