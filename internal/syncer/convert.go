package syncer

import (
	"context"
	"fmt"
	"path"

	"github.com/hoshi0/hoshi/internal/drive"
)

// Native repository types that need an export step before they are
// text-extractable.
const (
	mimeGoogleDoc   = "application/vnd.google-apps.document"
	mimeGoogleSheet = "application/vnd.google-apps.spreadsheet"

	mimePDF = "application/pdf"
	mimeCSV = "text/csv"
)

// conversion describes how an allowed native type becomes an indexable blob.
// A zero value means the file's own bytes pass through unchanged.
type conversion struct {
	exportMime string // non-empty: render via the repository's export endpoint
	ext        string // extension appended to the blob name after export
}

// allowedTypes is the fixed allow-list of native types the engine indexes.
// Folders are never indexed and are handled by the crawler, not this table.
var allowedTypes = map[string]conversion{
	// Provider-native documents render to PDF for text extractability;
	// spreadsheets render to flat delimited text.
	mimeGoogleDoc:   {exportMime: mimePDF, ext: ".pdf"},
	mimeGoogleSheet: {exportMime: mimeCSV, ext: ".csv"},

	// Pass-through types.
	mimePDF:            {},
	"text/plain":       {},
	mimeCSV:            {},
	"text/markdown":    {},
	"application/json": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       {},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {},
}

// indexable reports whether the file's native type is on the allow-list.
func indexable(f drive.File) bool {
	if f.MimeType == drive.MimeFolder {
		return false
	}
	_, ok := allowedTypes[f.MimeType]
	return ok
}

// fetchConverted retrieves a file's bytes in their indexable form, returning
// the blob name and MIME type to upload under.
func (e *Engine) fetchConverted(ctx context.Context, f drive.File) (data []byte, name, mimeType string, err error) {
	conv, ok := allowedTypes[f.MimeType]
	if !ok {
		return nil, "", "", fmt.Errorf("type %s is not on the allow-list", f.MimeType)
	}

	if conv.exportMime != "" {
		data, err = e.repo.ExportNative(ctx, f.ID, conv.exportMime)
		if err != nil {
			return nil, "", "", fmt.Errorf("export %s: %w", f.ID, err)
		}
		name = f.Name
		if path.Ext(name) == "" {
			name += conv.ext
		}
		return data, name, conv.exportMime, nil
	}

	data, err = e.repo.DownloadBlob(ctx, f.ID)
	if err != nil {
		return nil, "", "", fmt.Errorf("download %s: %w", f.ID, err)
	}
	return data, f.Name, f.MimeType, nil
}
