package model

import (
	"database/sql"
	"time"
)

// PageType はページの種別。
type PageType string

const (
	PageTypeSong      PageType = "song"
	PageTypeTechnical PageType = "technical"
)

// Valid は定義済みの種別かどうかを返す。
func (t PageType) Valid() bool {
	return t == PageTypeSong || t == PageTypeTechnical
}

// ResourceType はリソースの種別。
type ResourceType string

const (
	ResourceTypeVideo      ResourceType = "video"
	ResourceTypePhoto      ResourceType = "photo"
	ResourceTypeDocument   ResourceType = "document"
	ResourceTypeMusicSheet ResourceType = "music_sheet"
	ResourceTypeAudio      ResourceType = "audio"
)

// Valid は定義済みの種別かどうかを返す。
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceTypeVideo, ResourceTypePhoto, ResourceTypeDocument, ResourceTypeMusicSheet, ResourceTypeAudio:
		return true
	default:
		return false
	}
}

// Page は練習ページ（曲または技術テーマ）を表す。
type Page struct {
	ID         int64     `db:"id"`
	Name       string    `db:"name"`
	Type       PageType  `db:"type"`
	IsFavorite bool      `db:"is_favorite"`
	CreatedAt  time.Time `db:"created_at"`
}

// Resource はページに紐づく教材（動画、写真、文書、外部リンク）を表す。
type Resource struct {
	ID           int64          `db:"id"`
	PageID       int64          `db:"page_id"`
	Title        string         `db:"title"`
	Description  sql.NullString `db:"description"`
	ResourceType ResourceType   `db:"resource_type"`
	FilePath     sql.NullString `db:"file_path"`
	ExternalURL  sql.NullString `db:"external_url"`
	Order        int            `db:"sort_order"`
	IsExpanded   bool           `db:"is_expanded"`
	CreatedAt    time.Time      `db:"created_at"`
}
