// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_transcript

import (
	"context"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Repository is the durable mirror of the in-memory transcript index.
// Every index mutation is forwarded here synchronously (at-least-once); a
// failed write is logged by the caller but never rolls the index back.
type Repository interface {
	// Upsert inserts or replaces the row for item.ItemID.
	Upsert(ctx context.Context, item *Item) error

	// DeleteByID removes a single item row.
	DeleteByID(ctx context.Context, itemID string) error

	// DeleteAll removes every transcript row.
	DeleteAll(ctx context.Context) error

	// ListAll returns all items ordered by creation time.
	ListAll(ctx context.Context) ([]Item, error)
}

type sqliteRepository struct {
	db *gorm.DB
}

// NewSQLiteRepository opens (creating if needed) the transcript database at
// path and migrates the schema.
func NewSQLiteRepository(path string) (Repository, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript database %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Item{}); err != nil {
		return nil, fmt.Errorf("failed to migrate transcript schema: %w", err)
	}
	return &sqliteRepository{db: db}, nil
}

func (r *sqliteRepository) Upsert(ctx context.Context, item *Item) error {
	if err := r.db.WithContext(ctx).Save(item).Error; err != nil {
		return fmt.Errorf("failed to upsert transcript %s: %w", item.ItemID, err)
	}
	return nil
}

func (r *sqliteRepository) DeleteByID(ctx context.Context, itemID string) error {
	if err := r.db.WithContext(ctx).Delete(&Item{}, "item_id = ?", itemID).Error; err != nil {
		return fmt.Errorf("failed to delete transcript %s: %w", itemID, err)
	}
	return nil
}

func (r *sqliteRepository) DeleteAll(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Where("1 = 1").Delete(&Item{}).Error; err != nil {
		return fmt.Errorf("failed to delete transcripts: %w", err)
	}
	return nil
}

func (r *sqliteRepository) ListAll(ctx context.Context) ([]Item, error) {
	var items []Item
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	return items, nil
}
