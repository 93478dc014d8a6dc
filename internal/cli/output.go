// Package cli provides output formatting and an HTTP client for the ragd CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/hyperjump/ragd/internal/models"
	"github.com/hyperjump/ragd/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// QueryResponse is the wire form of a RAG query answer. Result is nil when
// retrieval is unavailable for the organization.
type QueryResponse struct {
	Available bool `json:"available"`
	*models.RetrievalResult
}

// WriteQueryResult writes a RAG query answer to w. A nil res means unavailable.
func WriteQueryResult(w io.Writer, res *models.RetrievalResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, QueryResponse{Available: res != nil, RetrievalResult: res})
	}
	if res == nil {
		_, err := fmt.Fprintln(w, "Retrieval unavailable: embedding is not configured or the provider failed.")
		return err
	}
	if len(res.Sources) == 0 {
		_, err := fmt.Fprintln(w, "No relevant content found.")
		return err
	}
	fmt.Fprintf(w, "\nFound %d sources\n\n", len(res.Sources))
	for i, s := range res.Sources {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "%d. %s (chunk %d) | Score: %.4f\n", i+1, s.DocumentName, s.ChunkIndex, s.Score)
		fmt.Fprintf(w, "Document: %s\n", s.DocumentID)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(s.ChunkContent, 200))
	}
	return nil
}

// WriteStatus writes the server or local status map.
func WriteStatus(w io.Writer, status map[string]interface{}, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	fmt.Fprintf(w, "Documents: %s\n", humanize.Comma(toInt64(status["documents"])))
	fmt.Fprintf(w, "Chunks:    %s\n", humanize.Comma(toInt64(status["chunks"])))
	if size, ok := status["database_size_bytes"]; ok {
		fmt.Fprintf(w, "Database:  %s\n", humanize.Bytes(uint64(toInt64(size))))
	}
	if cache, ok := status["cache"].(map[string]interface{}); ok {
		fmt.Fprintf(w, "Cache:     %d/%d organizations, %d hits, %d misses, %d evictions\n",
			toInt64(cache["entries"]), toInt64(cache["capacity"]),
			toInt64(cache["hits"]), toInt64(cache["misses"]), toInt64(cache["evictions"]))
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
