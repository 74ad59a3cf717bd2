package packaging

import (
	"fmt"
	"time"

	"org-backup-engine/internal/errors"
)

// ManifestVersion is stamped onto manifests this package produces
const ManifestVersion = "1.0"

// CategoryStats summarizes one category's share of an archive
type CategoryStats struct {
	Records   int64    `json:"records"`
	SizeBytes int64    `json:"size_bytes"`
	Tables    []string `json:"tables"`
}

// Manifest records what an archive contains. It is stored inside the archive
// and its counts populate the backup record's summary.
type Manifest struct {
	Version      string                   `json:"version"`
	OrgID        string                   `json:"org_id"`
	CreatedAt    time.Time                `json:"created_at"`
	Compression  CompressionType          `json:"compression"`
	Encrypted    bool                     `json:"encrypted"`
	KeyRef       string                   `json:"key_ref,omitempty"`
	Categories   map[string]CategoryStats `json:"categories"`
	TotalRecords int64                    `json:"total_records"`
	TotalBytes   int64                    `json:"total_bytes"`
	FileCount    int                      `json:"file_count"`
}

// NewManifest creates an empty manifest for one tenant's archive
func NewManifest(orgID string, compression CompressionType) *Manifest {
	return &Manifest{
		Version:     ManifestVersion,
		OrgID:       orgID,
		CreatedAt:   time.Now().UTC(),
		Compression: compression,
		Categories:  make(map[string]CategoryStats),
	}
}

// AddTable accumulates one table's extraction result under its category
func (m *Manifest) AddTable(category, table string, records, sizeBytes int64) {
	stats := m.Categories[category]
	stats.Records += records
	stats.SizeBytes += sizeBytes
	stats.Tables = append(stats.Tables, table)
	m.Categories[category] = stats

	m.TotalRecords += records
	m.TotalBytes += sizeBytes
}

// Validate checks the manifest's internal consistency: the totals must equal
// the sum of the per-category counts.
func (m *Manifest) Validate() error {
	var records, bytes int64
	for _, stats := range m.Categories {
		records += stats.Records
		bytes += stats.SizeBytes
	}

	if records != m.TotalRecords {
		return errors.NewIntegrityError(
			fmt.Sprintf("manifest record total %d does not match category sum %d",
				m.TotalRecords, records), nil)
	}
	if bytes != m.TotalBytes {
		return errors.NewIntegrityError(
			fmt.Sprintf("manifest byte total %d does not match category sum %d",
				m.TotalBytes, bytes), nil)
	}
	return nil
}

// CategoryNames returns the categories present in the archive
func (m *Manifest) CategoryNames() []string {
	names := make([]string, 0, len(m.Categories))
	for name := range m.Categories {
		names = append(names, name)
	}
	return names
}
