package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	apperrors "github.com/nexusrag/backend-go/internal/errors"
)

// vectorEntryModel 向量条目表，自增ID兼作插入序号
type vectorEntryModel struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	ChunkID    string `gorm:"column:chunk_id;uniqueIndex;size:128"`
	DocumentID string `gorm:"column:document_id;index;size:128"`
	Embedding  string `gorm:"column:embedding;type:text"`
	Dimensions int    `gorm:"column:dimensions"`
}

func (vectorEntryModel) TableName() string {
	return "vector_entries"
}

// DatabaseVectorIndex 基于PostgreSQL的精确索引：
// 向量以JSON存储，检索时全量加载候选做余弦相似度暴力比对。
// 适合中小规模语料，批量插入与按文档删除依赖事务保证原子性。
type DatabaseVectorIndex struct {
	db         *gorm.DB
	dimensions int
}

// NewDatabaseVectorIndex 创建数据库索引
func NewDatabaseVectorIndex(db *gorm.DB, dimensions int) *DatabaseVectorIndex {
	return &DatabaseVectorIndex{db: db, dimensions: dimensions}
}

// Migrate 建表
func (s *DatabaseVectorIndex) Migrate() error {
	return s.db.AutoMigrate(&vectorEntryModel{})
}

func (s *DatabaseVectorIndex) validateEntry(entry IndexEntry) error {
	if entry.ChunkID == "" {
		return apperrors.NewValidationError("chunk id is empty")
	}
	if len(entry.Vector) == 0 {
		return apperrors.NewValidationError("vector is empty")
	}
	if s.dimensions > 0 && len(entry.Vector) != s.dimensions {
		return apperrors.NewDimensionMismatchError(s.dimensions, len(entry.Vector))
	}
	return nil
}

func encodeEntry(entry IndexEntry) (*vectorEntryModel, error) {
	embeddingJSON, err := json.Marshal(entry.Vector)
	if err != nil {
		return nil, fmt.Errorf("encode embedding: %w", err)
	}
	return &vectorEntryModel{
		ChunkID:    entry.ChunkID,
		DocumentID: entry.DocumentID,
		Embedding:  string(embeddingJSON),
		Dimensions: len(entry.Vector),
	}, nil
}

func (s *DatabaseVectorIndex) insertTx(tx *gorm.DB, entry IndexEntry) error {
	var count int64
	if err := tx.Model(&vectorEntryModel{}).Where("chunk_id = ?", entry.ChunkID).Count(&count).Error; err != nil {
		return fmt.Errorf("check chunk exists: %w", err)
	}
	if count > 0 {
		return apperrors.NewDuplicateIDError(entry.ChunkID)
	}

	record, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	if err := tx.Create(record).Error; err != nil {
		return fmt.Errorf("insert vector entry: %w", err)
	}
	return nil
}

func (s *DatabaseVectorIndex) Insert(ctx context.Context, entry IndexEntry) error {
	if err := s.validateEntry(entry); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.insertTx(tx, entry)
	})
}

func (s *DatabaseVectorIndex) Upsert(ctx context.Context, entry IndexEntry) error {
	if err := s.validateEntry(entry); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chunk_id = ?", entry.ChunkID).Delete(&vectorEntryModel{}).Error; err != nil {
			return fmt.Errorf("replace vector entry: %w", err)
		}
		record, err := encodeEntry(entry)
		if err != nil {
			return err
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("insert vector entry: %w", err)
		}
		return nil
	})
}

// InsertBatch 事务内批量插入，任一条目失败则整体回滚
func (s *DatabaseVectorIndex) InsertBatch(ctx context.Context, entries []IndexEntry) error {
	for _, entry := range entries {
		if err := s.validateEntry(entry); err != nil {
			return err
		}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, entry := range entries {
			if err := s.insertTx(tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *DatabaseVectorIndex) Search(ctx context.Context, vector []float32, topK int, filter *SearchFilter) ([]SearchMatch, error) {
	if topK <= 0 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid top_k: %d", topK))
	}
	if s.dimensions > 0 && len(vector) != s.dimensions {
		return nil, apperrors.NewDimensionMismatchError(s.dimensions, len(vector))
	}

	query := s.db.WithContext(ctx).Model(&vectorEntryModel{}).Order("id ASC")
	if filter != nil && len(filter.DocumentIDs) > 0 {
		query = query.Where("document_id IN ?", filter.DocumentIDs)
	}

	var rows []vectorEntryModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load vector entries: %w", err)
	}

	norm := vectorNorm(vector)
	candidates := make([]rankedMatch, 0, len(rows))
	for _, row := range rows {
		var embedding []float32
		if err := json.Unmarshal([]byte(row.Embedding), &embedding); err != nil {
			continue
		}
		candidates = append(candidates, rankedMatch{
			match: SearchMatch{
				ChunkID:    row.ChunkID,
				DocumentID: row.DocumentID,
				Score:      cosineSimilarity(vector, embedding, norm),
			},
			seq: row.ID,
		})
	}

	sortRankedMatches(candidates)
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	matches := make([]SearchMatch, 0, len(candidates))
	for _, c := range candidates {
		matches = append(matches, c.match)
	}
	return matches, nil
}

func (s *DatabaseVectorIndex) Delete(ctx context.Context, chunkID string) error {
	err := s.db.WithContext(ctx).Where("chunk_id = ?", chunkID).Delete(&vectorEntryModel{}).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("delete vector entry: %w", err)
	}
	return nil
}

func (s *DatabaseVectorIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&vectorEntryModel{}).Error; err != nil {
			return fmt.Errorf("delete document vectors: %w", err)
		}
		return nil
	})
}

func (s *DatabaseVectorIndex) Len(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&vectorEntryModel{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count vector entries: %w", err)
	}
	return int(count), nil
}

func (s *DatabaseVectorIndex) Approximate() bool {
	return false
}

func (s *DatabaseVectorIndex) Ready() bool {
	return s.db != nil
}
