package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStoreNotConfigured is returned when audit export is invoked without a backing chain.
	ErrStoreNotConfigured = errors.New("audit: chain not configured (fail-closed)")
	// ErrNoEntries is returned when nothing matches the export request.
	ErrNoEntries = errors.New("audit: no entries match")
)

// Manifest describes an evidence pack.
type Manifest struct {
	ReportID    string    `json:"report_id,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	EventCount  int       `json:"event_count"`
	ChainHead   string    `json:"chain_head"`
	ChainValid  bool      `json:"chain_valid"`
}

// Exporter handles the creation of evidence packs.
type Exporter struct {
	chain *Chain
	now   func() time.Time
}

func NewExporter(c *Chain) *Exporter {
	return &Exporter{chain: c, now: time.Now}
}

// GeneratePack creates a zip file containing the audit entries of reportID
// (all entries when empty) and a manifest. It returns the archive and its
// SHA-256 hex checksum. A broken chain is refused.
func (e *Exporter) GeneratePack(ctx context.Context, reportID string) ([]byte, string, error) {
	if e.chain == nil {
		return nil, "", ErrStoreNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if err := e.chain.VerifyChain(); err != nil {
		return nil, "", err
	}
	entries := e.chain.Entries(reportID)
	if len(entries) == 0 {
		return nil, "", ErrNoEntries
	}

	eventsJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, "", err
	}
	manifestJSON, err := json.MarshalIndent(Manifest{
		ReportID:    reportID,
		GeneratedAt: e.now().UTC(),
		EventCount:  len(entries),
		ChainHead:   e.chain.Head(),
		ChainValid:  true,
	}, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: failed to marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	for _, f := range []struct {
		name string
		data []byte
	}{
		{"events.json", eventsJSON},
		{"manifest.json", manifestJSON},
	} {
		fw, err := w.Create(f.name)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(f.data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	hash := sha256.Sum256(zipBytes)
	return zipBytes, hex.EncodeToString(hash[:]), nil
}
