// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_transcript

// Role of a transcript item's author.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Item is one conversation turn. ItemID is assigned by the provider and is
// stable for the item's lifetime; Text is append-only while the item is open
// and may be replaced exactly once at finalization.
type Item struct {
	ItemID    string `gorm:"primaryKey;column:item_id"`
	Role      string `gorm:"column:role"`
	Text      string `gorm:"column:text"`
	CreatedAt int64  `gorm:"column:created_at"` // unix millis
	UpdatedAt int64  `gorm:"column:updated_at"` // unix millis
}

// TableName overrides gorm's pluralisation to match the on-disk schema.
func (Item) TableName() string { return "transcripts" }
