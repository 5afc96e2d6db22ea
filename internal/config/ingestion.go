package config

// IngestionConfig tunes the document pipeline.
type IngestionConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	// Index write batch sizes
	VectorBatchSize  int `yaml:"vector_batch_size"`
	LexicalBatchSize int `yaml:"lexical_batch_size"`

	// Upload limits for POST /ingest/file
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	AllowedExts    []string `yaml:"allowed_exts"`

	DefaultNamespace string `yaml:"default_namespace"`
}

// DefaultIngestionConfig returns the default ingestion configuration.
func DefaultIngestionConfig() IngestionConfig {
	return IngestionConfig{
		ChunkSize:        1000,
		ChunkOverlap:     200,
		VectorBatchSize:  100,
		LexicalBatchSize: 500,
		MaxUploadBytes:   100 << 20,
		AllowedExts:      []string{".txt", ".md", ".csv", ".json", ".html", ".pdf", ".docx"},
		DefaultNamespace: "default",
	}
}
