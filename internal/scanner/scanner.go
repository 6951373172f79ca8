// Package scanner implements the worker side of the swarm: scanning
// content regions for artifacts and running the agent loop that pulls
// scan tasks, executes them, and reports back over the channel.
package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/keller/swarmd/internal/models"
)

// ScanRegion walks the region directory and hashes every artifact whose
// base name matches pattern (an empty pattern matches everything). A
// failure to read one artifact is recorded in the report and does not
// abort the scan; an unreachable region root fails the whole call.
func ScanRegion(region, pattern string) (models.RegionReport, error) {
	report := models.RegionReport{Region: region}

	info, err := os.Stat(region)
	if err != nil {
		return report, fmt.Errorf("region %s unreachable: %w", region, err)
	}
	if !info.IsDir() {
		return report, fmt.Errorf("region %s is not a directory", region)
	}

	walkErr := filepath.WalkDir(region, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == region {
				return err
			}
			report.Errors = append(report.Errors, models.ScanError{
				Path:    relPath(region, path),
				Message: err.Error(),
			})
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			return nil
		}

		if pattern != "" {
			matched, matchErr := filepath.Match(pattern, entry.Name())
			if matchErr != nil {
				return fmt.Errorf("bad artifact pattern %q: %w", pattern, matchErr)
			}
			if !matched {
				return nil
			}
		}

		digest, digestErr := hashArtifact(path)
		if digestErr != nil {
			report.Errors = append(report.Errors, models.ScanError{
				Path:    relPath(region, path),
				Message: digestErr.Error(),
			})
			return nil
		}

		report.Results = append(report.Results, models.ScanResult{
			Path:         relPath(region, path),
			Digest:       digest,
			Region:       region,
			DiscoveredAt: time.Now(),
		})
		return nil
	})
	if walkErr != nil {
		return report, fmt.Errorf("scan region %s: %w", region, walkErr)
	}

	// Walk order is already lexical per directory; sorting the flattened
	// result makes the report order independent of directory nesting.
	sort.Slice(report.Results, func(i, j int) bool {
		return report.Results[i].Path < report.Results[j].Path
	})
	return report, nil
}

func hashArtifact(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func relPath(region, path string) string {
	rel, err := filepath.Rel(region, path)
	if err != nil {
		return path
	}
	return rel
}
