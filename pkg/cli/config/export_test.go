package config

// NewGeminiForTest creates a Gemini config for testing purposes
func NewGeminiForTest(projectID, location string) *Gemini {
	return &Gemini{
		projectID: projectID,
		location:  location,
	}
}

// GeminiClientOptionCount returns how many client options the config passes to gemini.New
func GeminiClientOptionCount(g *Gemini, model, embeddingModel string) int {
	g.model = model
	g.embeddingModel = embeddingModel
	return len(g.clientOptions())
}

// NewRepositoryForTest creates a Repository config for testing purposes
func NewRepositoryForTest(backend string, dimension int) *Repository {
	return &Repository{
		backend:   backend,
		dimension: dimension,
	}
}

// NewLoggerForTest creates a Logger config for testing purposes
func NewLoggerForTest(level, format, output string) *Logger {
	return &Logger{
		level:  level,
		format: format,
		output: output,
	}
}

// NewAppConfigForTest creates an AppConfig for testing purposes
func NewAppConfigForTest(path string) *AppConfig {
	return &AppConfig{path: path}
}

// NewUploadForTest creates an Upload config for testing purposes
func NewUploadForTest(bucket string) *Upload {
	return &Upload{bucket: bucket}
}
