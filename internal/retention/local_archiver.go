package retention

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agentoven/conductor/pkg/models"
	"github.com/rs/zerolog/log"
)

// LocalFileExporter writes archived plans as JSONL files to a local directory.
//
//	{basePath}/plans/2026-02-20T15-04-05.000000000Z.jsonl[.gz]
type LocalFileExporter struct {
	basePath string
	compress bool
}

func NewLocalFileExporter(basePath string, compress bool) *LocalFileExporter {
	return &LocalFileExporter{basePath: basePath, compress: compress}
}

func (a *LocalFileExporter) Kind() string { return "local" }

func (a *LocalFileExporter) ExportPlans(_ context.Context, plans []models.UserPlan) (path string, err error) {
	dir := filepath.Join(a.basePath, "plans")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	filename := time.Now().UTC().Format("2006-01-02T15-04-05.000000000Z") + ".jsonl"
	if a.compress {
		filename += ".gz"
	}
	fpath := filepath.Join(dir, filename)

	f, err := os.Create(fpath)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close archive file: %w", cerr)
		}
	}()

	enc := json.NewEncoder(f)
	if a.compress {
		gw := gzip.NewWriter(f)
		defer func() {
			if cerr := gw.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("flush archive file: %w", cerr)
			}
		}()
		enc = json.NewEncoder(gw)
	}

	for _, p := range plans {
		if err := enc.Encode(p); err != nil {
			return "", fmt.Errorf("encode plan %s: %w", p.ID, err)
		}
	}

	log.Debug().
		Str("path", fpath).
		Int("count", len(plans)).
		Msg("Archived plans to local file")

	return fpath, nil
}
