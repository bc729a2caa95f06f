// Package export writes completed datasets to disk as CSV, JSON, and XLSX,
// with a metadata sidecar, and manages the resulting files.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scrapeease/scrapeease/internal/config"
	"github.com/scrapeease/scrapeease/internal/model"
)

// Metadata is the sidecar written next to every export, and the unit the
// history listing returns.
type Metadata struct {
	ScrapeID     string                   `json:"scrape_id"`
	SourceURL    string                   `json:"source_url"`
	Strategy     *model.Strategy          `json:"strategy,omitempty"`
	Columns      []string                 `json:"columns"`
	ColumnTypes  map[string]model.TypeTag `json:"column_types"`
	TotalRecords int                      `json:"total_records"`
	PagesVisited int                      `json:"pages_visited"`
	Warnings     []string                 `json:"warnings,omitempty"`
	Files        map[string]string        `json:"files"` // format -> path
	CreatedAt    time.Time                `json:"created_at"`
}

// Writer writes datasets to the export directory in the configured formats.
type Writer struct {
	dataDir string
	formats []string
}

// NewWriter creates the export directory if needed.
func NewWriter(cfg config.ExportConfig) (*Writer, error) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data/processed"
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = []string{"csv", "json"}
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create dir %s", cfg.DataDir)
	}
	return &Writer{dataDir: cfg.DataDir, formats: cfg.Formats}, nil
}

// WriteAll writes the dataset in every configured format concurrently, then
// the metadata sidecar. Returns format -> written path.
func (w *Writer) WriteAll(ctx context.Context, scrapeID string, ds *model.NormalizedDataset) (map[string]string, error) {
	ts := time.Now().UTC().Format("20060102_150405")
	files := make(map[string]string, len(w.formats))
	for _, format := range w.formats {
		files[format] = filepath.Join(w.dataDir, fmt.Sprintf("scrape_%s_%s.%s", scrapeID, ts, format))
	}

	g, _ := errgroup.WithContext(ctx)
	for format, path := range files {
		g.Go(func() error {
			switch format {
			case "csv":
				return w.WriteCSV(path, ds)
			case "json":
				return w.WriteJSON(path, ds)
			case "xlsx":
				return w.WriteXLSX(path, ds)
			default:
				return eris.Errorf("export: unknown format %q", format)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	meta := Metadata{
		ScrapeID:     scrapeID,
		SourceURL:    ds.Provenance.SourceURL,
		Strategy:     &ds.Provenance.Strategy,
		Columns:      ds.Columns,
		ColumnTypes:  ds.ColumnTypes,
		TotalRecords: ds.TotalRecords,
		PagesVisited: ds.Provenance.PagesVisited,
		Warnings:     ds.Provenance.Warnings,
		Files:        files,
		CreatedAt:    time.Now().UTC(),
	}
	metaPath := filepath.Join(w.dataDir, scrapeID+"_metadata.json")
	if err := writeJSONFile(metaPath, meta); err != nil {
		return nil, err
	}

	zap.L().Info("dataset exported",
		zap.String("scrape_id", scrapeID),
		zap.Strings("formats", w.formats),
		zap.Int("records", ds.TotalRecords),
	)
	return files, nil
}

// WriteCSV writes the dataset as CSV with a header row in column order.
func (w *Writer) WriteCSV(path string, ds *model.NormalizedDataset) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	defer func() { _ = f.Close() }()

	cw := csv.NewWriter(f)
	if err := cw.Write(ds.Columns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	record := make([]string, len(ds.Columns))
	for _, row := range ds.Rows {
		for i, col := range ds.Columns {
			record[i] = row[col]
		}
		if err := cw.Write(record); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteJSON writes the dataset rows as a JSON array of records.
func (w *Writer) WriteJSON(path string, ds *model.NormalizedDataset) error {
	rows := ds.Rows
	if rows == nil {
		rows = []map[string]string{}
	}
	return writeJSONFile(path, rows)
}

// WriteXLSX writes the dataset as a single-sheet workbook.
func (w *Writer) WriteXLSX(path string, ds *model.NormalizedDataset) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Data")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range ds.Columns {
		header.AddCell().Value = col
	}
	for _, row := range ds.Rows {
		r := sheet.AddRow()
		for _, col := range ds.Columns {
			r.AddCell().Value = row[col]
		}
	}
	return eris.Wrapf(f.Save(path), "export: save %s", path)
}

func writeJSONFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return eris.Wrapf(enc.Encode(v), "export: encode %s", path)
}
