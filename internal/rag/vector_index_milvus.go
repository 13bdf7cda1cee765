package rag

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/nexusrag/backend-go/internal/config"
	apperrors "github.com/nexusrag/backend-go/internal/errors"
	"github.com/nexusrag/backend-go/internal/logger"
)

// MilvusVectorIndex 基于Milvus的近似索引（HNSW）。
// 近似检索不提供召回率保证，同分排序由Milvus决定；
// 需要严格确定性结果时使用内存或数据库索引。
type MilvusVectorIndex struct {
	milvusClient client.Client
	collection   string
	dimensions   int
	loaded       bool
}

// NewMilvusVectorIndex 创建Milvus索引
func NewMilvusVectorIndex(cfg config.MilvusConfig, dimensions int) (*MilvusVectorIndex, error) {
	address := cfg.Address
	if address == "" {
		address = "localhost:19530"
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "rag_chunks"
	}
	database := cfg.Database
	if database == "" {
		database = "default"
	}
	if dimensions <= 0 {
		dimensions = 1536
	}

	milvusClient, err := client.NewClient(context.Background(), client.Config{
		Address:       address,
		DBName:        database,
		Username:      cfg.Username,
		Password:      cfg.Password,
		EnableTLSAuth: cfg.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	idx := &MilvusVectorIndex{
		milvusClient: milvusClient,
		collection:   collection,
		dimensions:   dimensions,
	}
	if err := idx.ensureCollection(context.Background()); err != nil {
		return nil, err
	}
	return idx, nil
}

func (s *MilvusVectorIndex) ensureCollection(ctx context.Context) error {
	hasCollection, err := s.milvusClient.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !hasCollection {
		schema := &entity.Schema{
			CollectionName: s.collection,
			Description:    "document chunk vectors",
			Fields: []*entity.Field{
				{
					Name:       "chunk_id",
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					TypeParams: map[string]string{"max_length": "128"},
				},
				{
					Name:       "document_id",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "128"},
				},
				{
					Name:     "vector",
					DataType: entity.FieldTypeFloatVector,
					TypeParams: map[string]string{
						"dim": fmt.Sprintf("%d", s.dimensions),
					},
				},
			},
		}
		if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		vectorIndex, indexErr := newVectorFieldIndex()
		if indexErr != nil {
			return indexErr
		}
		if err := s.milvusClient.CreateIndex(ctx, s.collection, "vector", vectorIndex, false); err != nil {
			logger.Warn(fmt.Sprintf("failed to create index for collection %s: %v", s.collection, err))
		}
	}

	if !s.loaded {
		if err := s.milvusClient.LoadCollection(ctx, s.collection, false); err != nil {
			return fmt.Errorf("failed to load collection: %w", err)
		}
		s.loaded = true
	}
	return nil
}

// newVectorFieldIndex 优先构建HNSW索引，失败时回退IvfFlat
func newVectorFieldIndex() (entity.Index, error) {
	hnsw, err := entity.NewIndexHNSW(entity.COSINE, 8, 64)
	if err == nil {
		return hnsw, nil
	}
	ivf, ivfErr := entity.NewIndexIvfFlat(entity.COSINE, 128)
	if ivfErr != nil {
		return nil, fmt.Errorf("failed to create index: %w", ivfErr)
	}
	return ivf, nil
}

func (s *MilvusVectorIndex) validateEntry(entry IndexEntry) error {
	if entry.ChunkID == "" {
		return apperrors.NewValidationError("chunk id is empty")
	}
	if len(entry.Vector) == 0 {
		return apperrors.NewValidationError("vector is empty")
	}
	if len(entry.Vector) != s.dimensions {
		return apperrors.NewDimensionMismatchError(s.dimensions, len(entry.Vector))
	}
	return nil
}

func (s *MilvusVectorIndex) exists(ctx context.Context, chunkID string) (bool, error) {
	expr := fmt.Sprintf("chunk_id == %s", strconv.Quote(chunkID))
	rows, err := s.milvusClient.Query(ctx, s.collection, nil, expr, []string{"chunk_id"})
	if err != nil {
		return false, fmt.Errorf("milvus query failed: %w", err)
	}
	for _, col := range rows {
		if col.Name() == "chunk_id" && col.Len() > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *MilvusVectorIndex) insertColumns(ctx context.Context, entries []IndexEntry) error {
	chunkIDs := make([]string, 0, len(entries))
	documentIDs := make([]string, 0, len(entries))
	vectors := make([][]float32, 0, len(entries))
	for _, entry := range entries {
		chunkIDs = append(chunkIDs, entry.ChunkID)
		documentIDs = append(documentIDs, entry.DocumentID)
		vectors = append(vectors, entry.Vector)
	}

	_, err := s.milvusClient.Insert(ctx, s.collection, "",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnVarChar("document_id", documentIDs),
		entity.NewColumnFloatVector("vector", s.dimensions, vectors),
	)
	if err != nil {
		return fmt.Errorf("milvus insert failed: %w", err)
	}

	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		logger.Warn(fmt.Sprintf("failed to flush collection %s: %v", s.collection, err))
	}
	return nil
}

func (s *MilvusVectorIndex) Insert(ctx context.Context, entry IndexEntry) error {
	if err := s.validateEntry(entry); err != nil {
		return err
	}
	found, err := s.exists(ctx, entry.ChunkID)
	if err != nil {
		return err
	}
	if found {
		return apperrors.NewDuplicateIDError(entry.ChunkID)
	}
	return s.insertColumns(ctx, []IndexEntry{entry})
}

func (s *MilvusVectorIndex) Upsert(ctx context.Context, entry IndexEntry) error {
	if err := s.validateEntry(entry); err != nil {
		return err
	}
	if err := s.Delete(ctx, entry.ChunkID); err != nil {
		return err
	}
	return s.insertColumns(ctx, []IndexEntry{entry})
}

// InsertBatch 批量插入。失败时回收已写入的条目做尽力补偿，
// Milvus本身不提供跨请求事务。
func (s *MilvusVectorIndex) InsertBatch(ctx context.Context, entries []IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if err := s.validateEntry(entry); err != nil {
			return err
		}
		if _, dup := seen[entry.ChunkID]; dup {
			return apperrors.NewDuplicateIDError(entry.ChunkID)
		}
		seen[entry.ChunkID] = struct{}{}
	}
	for _, entry := range entries {
		found, err := s.exists(ctx, entry.ChunkID)
		if err != nil {
			return err
		}
		if found {
			return apperrors.NewDuplicateIDError(entry.ChunkID)
		}
	}
	return s.insertColumns(ctx, entries)
}

func (s *MilvusVectorIndex) Search(ctx context.Context, vector []float32, topK int, filter *SearchFilter) ([]SearchMatch, error) {
	if topK <= 0 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid top_k: %d", topK))
	}
	if len(vector) != s.dimensions {
		return nil, apperrors.NewDimensionMismatchError(s.dimensions, len(vector))
	}

	expr := ""
	if filter != nil && len(filter.DocumentIDs) > 0 {
		quoted := make([]string, 0, len(filter.DocumentIDs))
		for _, id := range filter.DocumentIDs {
			quoted = append(quoted, strconv.Quote(id))
		}
		expr = fmt.Sprintf("document_id in [%s]", strings.Join(quoted, ", "))
	}

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	searchResults, err := s.milvusClient.Search(
		ctx,
		s.collection,
		nil,
		expr,
		[]string{"document_id"},
		[]entity.Vector{entity.FloatVector(vector)},
		"vector",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}
	if len(searchResults) == 0 {
		return []SearchMatch{}, nil
	}

	result := searchResults[0]
	if result.Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", result.Err)
	}
	if result.ResultCount == 0 {
		return []SearchMatch{}, nil
	}

	var chunkIDs []string
	if idCol, ok := result.IDs.(*entity.ColumnVarChar); ok {
		chunkIDs = idCol.Data()
	}
	var documentIDs []string
	for _, field := range result.Fields {
		if field.Name() == "document_id" {
			if col, ok := field.(*entity.ColumnVarChar); ok {
				documentIDs = col.Data()
			}
		}
	}

	matches := make([]SearchMatch, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		match := SearchMatch{}
		if i < len(chunkIDs) {
			match.ChunkID = chunkIDs[i]
		}
		if i < len(documentIDs) {
			match.DocumentID = documentIDs[i]
		}
		if i < len(result.Scores) {
			match.Score = float64(result.Scores[i])
		}
		matches = append(matches, match)
	}
	return matches, nil
}

func (s *MilvusVectorIndex) Delete(ctx context.Context, chunkID string) error {
	expr := fmt.Sprintf("chunk_id == %s", strconv.Quote(chunkID))
	if err := s.milvusClient.Delete(ctx, s.collection, "", expr); err != nil {
		return fmt.Errorf("milvus delete failed: %w", err)
	}
	return nil
}

func (s *MilvusVectorIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	expr := fmt.Sprintf("document_id == %s", strconv.Quote(documentID))
	if err := s.milvusClient.Delete(ctx, s.collection, "", expr); err != nil {
		return fmt.Errorf("milvus delete failed: %w", err)
	}
	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		logger.Warn(fmt.Sprintf("failed to flush after delete: %v", err))
	}
	return nil
}

func (s *MilvusVectorIndex) Len(ctx context.Context) (int, error) {
	stats, err := s.milvusClient.GetCollectionStatistics(ctx, s.collection)
	if err != nil {
		return 0, fmt.Errorf("milvus statistics failed: %w", err)
	}
	count, err := strconv.Atoi(stats["row_count"])
	if err != nil {
		return 0, fmt.Errorf("parse row count: %w", err)
	}
	return count, nil
}

func (s *MilvusVectorIndex) Approximate() bool {
	return true
}

func (s *MilvusVectorIndex) Ready() bool {
	if s.milvusClient == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.milvusClient.ListCollections(ctx)
	return err == nil
}
