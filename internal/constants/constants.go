// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Matching constants
const (
	// DefaultMatchThreshold is the minimum similarity score (0-100) required
	// for a photo to be reported as a match
	DefaultMatchThreshold = 60

	// MaxScore is the upper bound of the similarity score scale
	MaxScore = 100
)

// Ingestion constants
const (
	// DefaultWorkerPoolSize is the default number of photos decoded and
	// processed concurrently within one upload batch
	DefaultWorkerPoolSize = 8

	// MaxUploadSize is the maximum size of a multipart upload request (256 MB)
	MaxUploadSize = 256 << 20
)

// Locator constants
const (
	// LocatorMaxDim is the maximum dimension the locator downscales to
	// before scanning for face regions
	LocatorMaxDim = 320

	// MinFaceFraction is the minimum face region side length relative to
	// the downscaled image's smaller dimension
	MinFaceFraction = 0.08
)

// Index constants
const (
	// HNSWCutover is the descriptor count above which an event index
	// builds an HNSW graph instead of relying on linear scans alone
	HNSWCutover = 2048

	// HNSWMaxNeighbors is the M parameter of the HNSW graph
	HNSWMaxNeighbors = 16
)
