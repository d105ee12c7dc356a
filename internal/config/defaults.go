package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/compliagent/data/db/compliagent.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/compliagent/data/indices/bleve"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/compliagent/data/indices/vectors.bin"
	}
	if cfg.Buckets.RawDir == "" {
		cfg.Buckets.RawDir = "/usr/local/var/compliagent/buckets/raw"
	}
	if cfg.Buckets.ProcessedDir == "" {
		cfg.Buckets.ProcessedDir = "/usr/local/var/compliagent/buckets/processed"
	}
	if cfg.Ingest.Suffixes == nil {
		cfg.Ingest.Suffixes = []string{".pdf"}
	}
	if cfg.Ingest.PolicyPrefixes == nil {
		cfg.Ingest.PolicyPrefixes = []string{"policies/"}
	}
	if cfg.OCR.Provider == "" {
		cfg.OCR.Provider = "local"
	}
	if cfg.OCR.Workers == 0 {
		cfg.OCR.Workers = 2
	}
	if cfg.OCR.PollInterval == 0 {
		cfg.OCR.PollInterval = 200 * time.Millisecond
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "bedrock"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "amazon.titan-embed-text-v1"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Embedding.Region == "" {
		cfg.Embedding.Region = "us-east-1"
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 16
	}
	if cfg.Embedding.RequestsPerSecond == 0 {
		cfg.Embedding.RequestsPerSecond = 10
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "bedrock"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	if cfg.LLM.Region == "" {
		cfg.LLM.Region = "us-east-1"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4000
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.1
	}
	if cfg.LLM.DraftTemperature == 0 {
		cfg.LLM.DraftTemperature = 0.2
	}
	if cfg.LLM.RequestsPerSecond == 0 {
		cfg.LLM.RequestsPerSecond = 2
	}
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 1000
	}
	if cfg.Chunking.OverlapWords == 0 {
		cfg.Chunking.OverlapWords = 20
	}
	if cfg.Search.DefaultSize == 0 {
		cfg.Search.DefaultSize = 10
	}
	if cfg.Search.MaxSize == 0 {
		cfg.Search.MaxSize = 100
	}
	if cfg.Search.MinVectorScore == 0 {
		cfg.Search.MinVectorScore = 0.7
	}
	if cfg.Search.MinHybridScore == 0 {
		cfg.Search.MinHybridScore = 0.5
	}
	if cfg.Search.VectorWeight == 0 && cfg.Search.TextWeight == 0 {
		cfg.Search.VectorWeight = 0.7
		cfg.Search.TextWeight = 0.3
	}
	if cfg.Search.TextScoreScale == 0 {
		cfg.Search.TextScoreScale = 10
	}
	if cfg.Search.Fuzziness == 0 {
		cfg.Search.Fuzziness = 1
	}
	if cfg.Search.TopKCandidates == 0 {
		cfg.Search.TopKCandidates = 100
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialInterval == 0 {
		cfg.Retry.InitialInterval = 2 * time.Second
	}
	if cfg.Retry.MaxInterval == 0 {
		cfg.Retry.MaxInterval = 30 * time.Second
	}
	if cfg.Retry.CallTimeout == 0 {
		cfg.Retry.CallTimeout = 2 * time.Minute
	}
	if cfg.Workflow.Timeout == 0 {
		cfg.Workflow.Timeout = 30 * time.Minute
	}
	if cfg.Workflow.DraftBatch == 0 {
		cfg.Workflow.DraftBatch = 3
	}
	if cfg.Workflow.ContextLimit == 0 {
		cfg.Workflow.ContextLimit = 5
	}
	if cfg.Monitor.Interval == 0 {
		cfg.Monitor.Interval = 24 * time.Hour
	}
	if cfg.Monitor.Prefix == "" {
		cfg.Monitor.Prefix = "monitor/"
	}
	if cfg.Monitor.UserAgent == "" {
		cfg.Monitor.UserAgent = "compliagent-monitor/1.0"
	}
}
