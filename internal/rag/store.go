// Package rag provides the knowledge store behind baseline answers.
// Embeddings come from an OpenAI-compatible /embeddings endpoint and
// vectors live in ChromaDB (HTTP client mode).
package rag

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dayuer/askrelay/internal/logging"
)

// Config holds Store configuration.
type Config struct {
	CollectionName   string // ChromaDB collection (default: "knowledge")
	EmbeddingModel   string // default: "text-embedding-3-small"
	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	ChromaURL        string // ChromaDB HTTP URL (default: "http://localhost:8000")
	ChunkSize        int    // chars per chunk (default: 500)
	ChunkOverlap     int    // overlap chars (default: 50)
	Logger           *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CollectionName:   "knowledge",
		EmbeddingModel:   "text-embedding-3-small",
		EmbeddingBaseURL: "https://api.openai.com/v1",
		ChromaURL:        "http://localhost:8000",
		ChunkSize:        500,
		ChunkOverlap:     50,
	}
}

// Store provides document ingestion and semantic search.
type Store struct {
	cfg        Config
	httpClient *http.Client
	log        *zap.Logger
}

// NewStore creates a new Store, filling unset fields from DefaultConfig.
func NewStore(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.CollectionName == "" {
		cfg.CollectionName = def.CollectionName
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = def.EmbeddingModel
	}
	if cfg.EmbeddingBaseURL == "" {
		cfg.EmbeddingBaseURL = def.EmbeddingBaseURL
	}
	if cfg.ChromaURL == "" {
		cfg.ChromaURL = def.ChromaURL
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = def.ChunkOverlap
	}

	return &Store{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logging.OrNop(cfg.Logger),
	}
}

const embedBatchSize = 25

// Embed generates embeddings for the given texts.
func (s *Store) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if s.cfg.EmbeddingAPIKey == "" {
		return nil, fmt.Errorf("embedding API key not configured")
	}

	var all [][]float64
	for i := 0; i < len(texts); i += embedBatchSize {
		end := min(i+embedBatchSize, len(texts))
		batch, err := s.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
	}
	return all, nil
}

func (s *Store) embedBatch(ctx context.Context, batch []string) ([][]float64, error) {
	body, _ := json.Marshal(map[string]any{
		"model": s.cfg.EmbeddingModel,
		"input": batch,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.cfg.EmbeddingBaseURL, "/")+"/embeddings",
		bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.EmbeddingAPIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding API call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding API error %d: %s", resp.StatusCode, string(b))
	}

	var result struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	if len(result.Data) != len(batch) {
		return nil, fmt.Errorf("embedding API returned %d vectors for %d inputs", len(result.Data), len(batch))
	}

	out := make([][]float64, len(result.Data))
	for i, d := range result.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// SearchResult holds a single search result.
type SearchResult struct {
	Text     string         `json:"text"`
	Source   string         `json:"source"`
	Distance float64        `json:"distance"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Query performs semantic search against ChromaDB.
func (s *Store) Query(ctx context.Context, text string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}

	embeddings, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding generated")
	}

	var result struct {
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]float64        `json:"distances"`
	}
	err = s.chroma(ctx, "query", map[string]any{
		"query_embeddings": [][]float64{embeddings[0]},
		"n_results":        topK,
		"include":          []string{"documents", "metadatas", "distances"},
	}, &result)
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	if len(result.Documents) == 0 {
		return results, nil
	}
	for i, doc := range result.Documents[0] {
		r := SearchResult{Text: doc}
		if len(result.Distances) > 0 && i < len(result.Distances[0]) {
			r.Distance = result.Distances[0][i]
		}
		if len(result.Metadatas) > 0 && i < len(result.Metadatas[0]) {
			r.Metadata = result.Metadatas[0][i]
			if src, ok := r.Metadata["source"].(string); ok {
				r.Source = src
			}
		}
		results = append(results, r)
	}
	return results, nil
}

// IngestText chunks, embeds and stores text. Returns the number of chunks added.
func (s *Store) IngestText(ctx context.Context, text, source string) (int, error) {
	chunks := ChunkText(text, s.cfg.ChunkSize, s.cfg.ChunkOverlap, source)
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	embeddings, err := s.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	ids := make([]string, len(chunks))
	metadatas := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		ids[i] = fmt.Sprintf("%x", md5.Sum([]byte(c.Source+"\x00"+c.Text)))[:16]
		metadatas[i] = map[string]any{
			"source":      c.Source,
			"chunk_index": c.ChunkIndex,
		}
	}

	err = s.chroma(ctx, "add", map[string]any{
		"ids":        ids,
		"embeddings": embeddings,
		"documents":  texts,
		"metadatas":  metadatas,
	}, nil)
	if err != nil {
		return 0, err
	}

	s.log.Info("ingested", zap.String("source", source), zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// IngestFile reads one file and ingests it under its base name.
func (s *Store) IngestFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return 0, fmt.Errorf("could not process file: %s", filepath.Base(path))
	}
	return s.IngestText(ctx, string(data), filepath.Base(path))
}

// IngestDir ingests every .md, .txt and .json file in a directory.
func (s *Store) IngestDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, entry := range entries {
		if entry.IsDir() || !Ingestible(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		n, err := s.IngestFile(ctx, path)
		if err != nil {
			s.log.Warn("ingest failed", zap.String("path", path), zap.Error(err))
			continue
		}
		total += n
	}
	return total, nil
}

// Ingestible reports whether a file name has a supported extension.
func Ingestible(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".txt", ".json":
		return true
	}
	return false
}

func (s *Store) chroma(ctx context.Context, op string, payload any, out any) error {
	body, _ := json.Marshal(payload)
	endpoint := fmt.Sprintf("%s/api/v1/collections/%s/%s",
		strings.TrimRight(s.cfg.ChromaURL, "/"), s.cfg.CollectionName, op)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chromaDB %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("chromaDB %s error %d: %s", op, resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse chromaDB %s response: %w", op, err)
	}
	return nil
}

// Chunk holds a text chunk with metadata.
type Chunk struct {
	Text       string `json:"text"`
	Source     string `json:"source"`
	ChunkIndex int    `json:"chunk_index"`
}

// ChunkText splits text into paragraph-aligned chunks that overlap by
// chunkOverlap characters.
func ChunkText(text string, chunkSize, chunkOverlap int, source string) []Chunk {
	if len(text) == 0 {
		return nil
	}

	paragraphs := strings.Split(text, "\n\n")
	var chunks []Chunk
	var current strings.Builder
	idx := 0

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if current.Len()+len(para) > chunkSize && current.Len() > 0 {
			chunks = append(chunks, Chunk{
				Text:       current.String(),
				Source:     source,
				ChunkIndex: idx,
			})
			idx++

			prev := current.String()
			current.Reset()
			if len(prev) > chunkOverlap {
				current.WriteString(prev[len(prev)-chunkOverlap:])
			}
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}

	if current.Len() > 0 {
		chunks = append(chunks, Chunk{
			Text:       current.String(),
			Source:     source,
			ChunkIndex: idx,
		})
	}

	return chunks
}
