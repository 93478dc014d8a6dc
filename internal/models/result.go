package models

// ScoredChunk is a per-query hit: a chunk's identity and content with its cosine score.
type ScoredChunk struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Content    string  `json:"content"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// Source is one retrieved fragment as presented to the caller.
type Source struct {
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	ChunkContent string  `json:"chunk_content"`
	ChunkIndex   int     `json:"chunk_index"`
	Score        float64 `json:"score"`
}

// RetrievalResult is the formatted prompt context plus its ordered sources.
// An empty result has Context == "" and a non-nil, empty Sources.
type RetrievalResult struct {
	Context string   `json:"context"`
	Sources []Source `json:"sources"`
}

// EmptyResult returns the defined "nothing relevant" result.
func EmptyResult() *RetrievalResult {
	return &RetrievalResult{Context: "", Sources: []Source{}}
}
