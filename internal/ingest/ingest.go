package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"automl-backend/internal/storage"
	"automl-backend/internal/table"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/xuri/excelize/v2"
)

const NoTabularFileMessage = "The zip file uploaded does not contain a .csv/.xlsx/.xls file"

const (
	defaultCacheSize     = 32
	DefaultMaxEntryBytes = 1 << 30
)

var (
	ErrNoTabularFile     = errors.New(NoTabularFileMessage)
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEntryTooLarge     = errors.New("zip entry exceeds the extraction size limit")
)

var tabularExtensions = []string{".csv", ".xlsx", ".xls"}

// CheckFiletype returns the text after the last '.' in name, or name itself
// when there is no dot. Case is preserved.
func CheckFiletype(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

type Ingester struct {
	storage       storage.Provider
	bucket        string
	cache         *lru.Cache[string, *table.Table]
	maxEntryBytes int64
}

func NewIngester(store storage.Provider, bucket string, cacheSize int) (*Ingester, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, *table.Table](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("error creating ingest cache: %w", err)
	}
	return &Ingester{storage: store, bucket: bucket, cache: cache, maxEntryBytes: DefaultMaxEntryBytes}, nil
}

// WithMaxEntryBytes caps the uncompressed size of an archive entry.
func (i *Ingester) WithMaxEntryBytes(n int64) *Ingester {
	if n > 0 {
		i.maxEntryBytes = n
	}
	return i
}

// Ingest parses an uploaded file into a raw table. Archives are searched for
// the first tabular entry, which is written to the extraction bucket under
// <uploadId>/<entry name> on every call before it is parsed. Parsed tables
// are memoized by file type and content.
func (i *Ingester) Ingest(ctx context.Context, uploadId uuid.UUID, name string, data []byte) (*table.Table, error) {
	filetype := CheckFiletype(name)
	switch filetype {
	case "csv", "xlsx":
	case "xls":
		return nil, fmt.Errorf("%w: legacy excel file '%s'", ErrUnsupportedFormat, name)
	default:
		entry, content, err := i.extract(ctx, uploadId, name, data)
		if err != nil {
			return nil, err
		}
		filetype, data = CheckFiletype(entry), content
		if filetype != "csv" && filetype != "xlsx" {
			return nil, fmt.Errorf("%w: '%s'", ErrUnsupportedFormat, entry)
		}
	}

	return i.parse(filetype, data)
}

func (i *Ingester) parse(filetype string, data []byte) (*table.Table, error) {
	sum := sha256.Sum256(data)
	cacheKey := filetype + "\x00" + hex.EncodeToString(sum[:])

	if cached, ok := i.cache.Get(cacheKey); ok {
		slog.Debug("ingest cache hit", "filetype", filetype)
		return cached.Clone(), nil
	}

	var (
		tbl *table.Table
		err error
	)
	if filetype == "xlsx" {
		tbl, err = ParseXLSX(data)
	} else {
		tbl, err = ParseCSV(data)
	}
	if err != nil {
		return nil, err
	}

	i.cache.Add(cacheKey, tbl)
	return tbl.Clone(), nil
}

func (i *Ingester) extract(ctx context.Context, uploadId uuid.UUID, name string, data []byte) (string, []byte, error) {
	entry, content, err := findTabularEntry(data, i.maxEntryBytes)
	if err != nil {
		return "", nil, err
	}

	key := uploadId.String() + "/" + path.Base(entry)
	if err := i.storage.PutObject(ctx, i.bucket, key, bytes.NewReader(content)); err != nil {
		return "", nil, fmt.Errorf("error extracting '%s': %w", entry, err)
	}
	slog.Info("extracted archive entry", "archive", name, "entry", entry, "key", key)

	return entry, content, nil
}

func findTabularEntry(data []byte, maxBytes int64) (string, []byte, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("error opening zip archive: %w", err)
	}

	var candidates []*zip.File
	for _, file := range archive.File {
		if file.FileInfo().IsDir() {
			continue
		}
		for _, ext := range tabularExtensions {
			if strings.HasSuffix(file.Name, ext) {
				candidates = append(candidates, file)
				break
			}
		}
	}

	if len(candidates) == 0 {
		return "", nil, ErrNoTabularFile
	}
	if len(candidates) > 1 {
		names := make([]string, len(candidates))
		for j, c := range candidates {
			names[j] = c.Name
		}
		slog.Warn("zip archive has several tabular entries, using the first", "entries", names)
	}

	entry := candidates[0]
	if entry.UncompressedSize64 > uint64(maxBytes) {
		return "", nil, fmt.Errorf("%w: '%s' is %d bytes, limit is %d", ErrEntryTooLarge, entry.Name, entry.UncompressedSize64, maxBytes)
	}

	rc, err := entry.Open()
	if err != nil {
		return "", nil, fmt.Errorf("error opening zip entry '%s': %w", entry.Name, err)
	}
	defer rc.Close()

	// The header size is not trusted.
	var buf bytes.Buffer
	n, err := buf.ReadFrom(io.LimitReader(rc, maxBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("error reading zip entry '%s': %w", entry.Name, err)
	}
	if n > maxBytes {
		return "", nil, fmt.Errorf("%w: '%s' exceeds %d bytes", ErrEntryTooLarge, entry.Name, maxBytes)
	}

	return entry.Name, buf.Bytes(), nil
}

func ParseCSV(data []byte) (*table.Table, error) {
	tbl, err := table.ReadCSV(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing csv: %w", err)
	}
	return tbl, nil
}

// ParseXLSX reads the first sheet of a workbook; its first row is the header.
// Cells are read unformatted so numbers keep their stored value, except cells
// with a date number format, which are rendered as datetimes.
func ParseXLSX(data []byte) (*table.Table, error) {
	book, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("error opening xlsx: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("error parsing xlsx: %w", table.ErrEmptyInput)
	}
	sheet := sheets[0]

	rows, err := book.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("error reading sheet '%s': %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("error parsing xlsx: %w", table.ErrEmptyInput)
	}

	dates := newDateCells(book, sheet)
	for r := 1; r < len(rows); r++ {
		for c, value := range rows[r] {
			if value == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, fmt.Errorf("error reading sheet '%s': %w", sheet, err)
			}
			if rendered, ok := dates.render(cell, value); ok {
				rows[r][c] = rendered
			}
		}
	}

	return table.New(rows[0], rows[1:])
}
