// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Upload constants
const (
	// MaxUploadSize is the maximum size of a card image in bytes (10MB)
	MaxUploadSize = 10 << 20

	// MaxMultipartMemory is how much of a multipart form is kept in memory before spilling to disk
	MaxMultipartMemory = 32 << 20
)

// AllowedImageTypes are the declared content types accepted for card images and face photos.
var AllowedImageTypes = []string{
	"image/png",
	"image/jpeg",
	"image/jpg",
	"image/webp",
}

// Workflow constants
const (
	// DefaultRequestTimeout bounds every collaborator call
	DefaultRequestTimeout = 60 * time.Second

	// ValidityYears is how long a card stays valid after its delivery date
	ValidityYears = 10
)

// Face search constants
const (
	// DefaultSimilarityThreshold is the minimum normalized similarity (0-1) for a face match
	DefaultSimilarityThreshold = 0.65

	// DefaultTopK is the default maximum number of face matches returned
	DefaultTopK = 10
)

// Processing constants
const (
	// WorkerPoolSize is the default number of parallel workers when indexing portraits
	WorkerPoolSize = 8

	// IndexSaveInterval is the number of portraits indexed before the index is flushed to disk
	IndexSaveInterval = 50

	// MaxImageSize is the maximum dimension (width or height) of images sent to vision models
	MaxImageSize = 1920
)

// HNSW index parameters for 512-dim face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// to ensure we have enough after threshold filtering.
	HNSWSearchMultiplier = 3
)
