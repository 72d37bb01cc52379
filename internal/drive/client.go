// Package drive wraps the remote document repository behind the small
// capability surface the sync engine and the retrieval layer consume:
// listing folder children, downloading blobs, exporting native formats and
// full-text search.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/hoshi0/hoshi/internal/fault"
)

// MimeFolder is the repository's folder type; folders are never indexed.
const MimeFolder = "application/vnd.google-apps.folder"

const (
	listFields = "nextPageToken, files(id, name, mimeType, parents, modifiedTime)"
	pageSize   = 100

	// maxBlobSize caps downloads and exports. Anything larger is rejected as
	// permanent input: the index provider would refuse it anyway.
	maxBlobSize = 50 << 20
)

// File is a repository file or folder as enumerated at crawl time.
// ID is the repository-assigned identity and is never reused.
type File struct {
	ID           string
	Name         string
	MimeType     string
	ParentID     string
	ModifiedTime time.Time
}

// Page is one page of a folder listing.
type Page struct {
	Files         []File
	NextPageToken string
}

// Client is a rate-limited wrapper over the Drive API.
type Client struct {
	svc     *gdrive.Service
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a repository client authenticated with the given OAuth access
// token.
func New(ctx context.Context, accessToken string, logger *slog.Logger) (*Client, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("%w: drive access token is required", fault.ErrAuthExpired)
	}
	if logger == nil {
		logger = slog.Default()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	svc, err := gdrive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &Client{
		svc: svc,
		// Drive's per-user quota is generous; 8 req/s with a small burst keeps
		// the crawler well inside it.
		limiter: rate.NewLimiter(8, 16),
		logger:  logger,
	}, nil
}

// ListChildren returns one page of the direct children of folderID.
// An empty folderID lists the repository root; pass Page.NextPageToken to
// continue, empty token for the first page.
func (c *Client) ListChildren(ctx context.Context, folderID, pageToken string) (*Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if folderID == "" {
		folderID = "root"
	}

	call := c.svc.Files.List().
		Q(fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(folderID))).
		Fields(listFields).
		PageSize(pageSize).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	res, err := call.Do()
	if err != nil {
		return nil, classify(err, "list children")
	}

	page := &Page{NextPageToken: res.NextPageToken}
	for _, f := range res.Files {
		page.Files = append(page.Files, fromAPI(f))
	}
	return page, nil
}

// DownloadBlob fetches the raw bytes of a file stored in its native format.
func (c *Client) DownloadBlob(ctx context.Context, fileID string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, classify(err, "download blob")
	}
	defer resp.Body.Close()

	return readBounded(resp.Body, fileID)
}

// ExportNative renders a provider-native document (Docs, Sheets) into
// targetMime, e.g. application/pdf or text/csv.
func (c *Client) ExportNative(ctx context.Context, fileID, targetMime string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.svc.Files.Export(fileID, targetMime).Context(ctx).Download()
	if err != nil {
		return nil, classify(err, "export native")
	}
	defer resp.Body.Close()

	return readBounded(resp.Body, fileID)
}

// Search runs the repository's native full-text search. folderID narrows the
// search to one folder's descendants when non-empty.
func (c *Client) Search(ctx context.Context, query, folderID string) ([]File, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := fmt.Sprintf("fullText contains '%s' and trashed = false", escapeQuery(query))
	if folderID != "" {
		q = fmt.Sprintf("%s and '%s' in parents", q, escapeQuery(folderID))
	}

	res, err := c.svc.Files.List().
		Q(q).
		Fields(listFields).
		PageSize(10).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(err, "search")
	}

	files := make([]File, 0, len(res.Files))
	for _, f := range res.Files {
		files = append(files, fromAPI(f))
	}
	c.logger.Debug("repository search completed", "query", query, "hits", len(files))
	return files, nil
}

func fromAPI(f *gdrive.File) File {
	file := File{
		ID:       f.Id,
		Name:     f.Name,
		MimeType: f.MimeType,
	}
	if len(f.Parents) > 0 {
		file.ParentID = f.Parents[0]
	}
	if f.ModifiedTime != "" {
		if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
			file.ModifiedTime = t
		}
	}
	return file
}

func readBounded(r io.Reader, fileID string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBlobSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", fileID, err)
	}
	if len(data) > maxBlobSize {
		return nil, fmt.Errorf("%w: blob %s exceeds %d bytes", fault.ErrPermanentInput, fileID, maxBlobSize)
	}
	return data, nil
}

// classify maps Drive API errors onto the shared fault taxonomy.
func classify(err error, op string) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return fmt.Errorf("%s: %w", op, fault.FromStatus(gErr.Code, gErr.Message))
	}
	return fmt.Errorf("%s: %w", op, err)
}

// escapeQuery escapes single quotes and backslashes for Drive query strings.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
