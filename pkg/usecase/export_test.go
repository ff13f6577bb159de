package usecase

// NormalizeQueryText is exported for testing
var NormalizeQueryText = normalizeQueryText

// EmbeddingText is exported for testing
var EmbeddingText = embeddingText
