package models

import "time"

// ScanResult represents one artifact discovered during a region scan:
// its path, content digest, and the region it belongs to.
type ScanResult struct {
	Path         string    `json:"path"`          // Artifact path relative to the region root
	Digest       string    `json:"digest"`        // Hex-encoded SHA-256 of the artifact content
	Region       string    `json:"region"`        // Owning region identifier
	DiscoveredAt time.Time `json:"discovered_at"` // Discovery timestamp
}

// ScanError records a per-artifact failure inside an otherwise successful
// scan. Individual artifact errors do not fail the containing task.
type ScanError struct {
	Path    string `json:"path"`    // Artifact that could not be read
	Message string `json:"message"` // Underlying I/O or permission error
}

// RegionReport is the full outcome of scanning one region: successful
// results plus any per-artifact errors. A report with zero results and
// zero errors is a valid empty region.
type RegionReport struct {
	Region  string       `json:"region"`  // Region that was scanned
	Results []ScanResult `json:"results"` // Successfully hashed artifacts
	Errors  []ScanError  `json:"errors"`  // Artifacts skipped due to errors
}
