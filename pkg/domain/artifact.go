package domain

import (
	"strings"
	"time"
)

// Artifact is the durable record for one uploaded pipeline output. Records
// are written by the worker after a successful upload and never mutated.
type Artifact struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	URI       string    `json:"uri"`
	ObjectKey string    `json:"object_key"`
	SHA256    string    `json:"sha256"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// InferArtifactType maps an artifact filename to a content type. Unknown
// suffixes fall through to a generic binary type.
func InferArtifactType(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".geojson"):
		return "application/geo+json"
	case strings.HasSuffix(lower, ".ply"):
		return "model/ply"
	case strings.HasSuffix(lower, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
