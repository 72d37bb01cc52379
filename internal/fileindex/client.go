// Package fileindex is a lightweight client for the managed file-search
// service: store management, blob upload, import and grounded search with
// attributions.
//
// The pinned genai SDK does not cover the file-search store surface, so this
// package talks to the REST API directly.
package fileindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hoshi0/hoshi/internal/fault"
)

const (
	// DefaultBaseURL is the production endpoint of the file-search service.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	apiVersion = "v1beta"

	// searchModel answers grounded-retrieval calls. The final user-facing
	// completion uses the model configured in the retrieval layer; this one
	// only has to read store contents and quote them.
	searchModel = "gemini-2.5-flash"

	// importPollInterval and importMaxPolls bound the wait for the
	// eventually-consistent import operation. If the operation is still
	// running after the last poll the import is treated as settled; the
	// provider finishes it in the background.
	importPollInterval = 2 * time.Second
	importMaxPolls     = 15
)

// Client is a rate-limited file-search service client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// New creates a file-search client. baseURL may be empty for production.
func New(apiKey, baseURL string, logger *slog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: file-search API key is required", fault.ErrAuthExpired)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
		limiter:    rate.NewLimiter(4, 8),
		logger:     logger,
	}, nil
}

// CreateStore creates a new search store and returns its resource name.
func (c *Client) CreateStore(ctx context.Context, displayName string) (string, error) {
	var store storeResource
	err := c.makeRequest(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s/fileSearchStores", c.baseURL, apiVersion),
		createStoreRequest{DisplayName: displayName}, &store)
	if err != nil {
		return "", fmt.Errorf("create store: %w", err)
	}
	if store.Name == "" {
		return "", fmt.Errorf("create store: provider returned empty store name")
	}

	c.logger.Info("created file-search store", "store_id", store.Name, "display_name", displayName)
	return store.Name, nil
}

// UploadBlob uploads raw bytes as a blob and returns the blob id.
// The blob is not searchable until imported into a store.
func (c *Client) UploadBlob(ctx context.Context, data []byte, name, mimeType string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, contentType, err := buildMultipartUpload(data, name, mimeType)
	if err != nil {
		return "", fmt.Errorf("upload blob: %w", err)
	}

	url := fmt.Sprintf("%s/upload/%s/files?uploadType=multipart", c.baseURL, apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", fmt.Errorf("upload blob: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", contentType)

	var uploaded uploadResponse
	if err := c.do(req, &uploaded); err != nil {
		return "", fmt.Errorf("upload blob %q: %w", name, err)
	}
	if uploaded.File.Name == "" {
		return "", fmt.Errorf("upload blob %q: provider returned empty file name", name)
	}

	c.logger.Debug("uploaded blob", "blob_id", uploaded.File.Name, "name", name, "bytes", len(data))
	return uploaded.File.Name, nil
}

// ImportBlobIntoStore attaches an uploaded blob to a store and waits, with a
// bounded poll, for the provider-side import to settle.
func (c *Client) ImportBlobIntoStore(ctx context.Context, storeID, blobID string) error {
	var op operation
	err := c.makeRequest(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s/%s:importFile", c.baseURL, apiVersion, storeID),
		importRequest{FileName: blobID}, &op)
	if err != nil {
		return fmt.Errorf("import blob %s: %w", blobID, err)
	}

	return c.waitOperation(ctx, op, blobID)
}

// waitOperation polls a long-running import operation until it reports done
// or the poll budget runs out. Running out is not an error: import is
// eventually consistent and the provider completes it in the background.
func (c *Client) waitOperation(ctx context.Context, op operation, blobID string) error {
	for poll := 0; !op.Done && op.Name != "" && poll < importMaxPolls; poll++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(importPollInterval):
		}

		if err := c.makeRequest(ctx, http.MethodGet,
			fmt.Sprintf("%s/%s/%s", c.baseURL, apiVersion, op.Name), nil, &op); err != nil {
			// Polling is best-effort; the import itself was accepted.
			c.logger.Warn("import poll failed", "blob_id", blobID, "error", err)
			return nil
		}
	}

	if op.Error != nil {
		return fmt.Errorf("import blob %s: %w", blobID, fault.FromStatus(op.Error.Code, op.Error.Message))
	}
	if !op.Done {
		c.logger.Debug("import still settling after poll budget", "blob_id", blobID)
	}
	return nil
}

// SearchStores runs one grounded-retrieval call across the given stores with
// all queries, returning free text plus the attribution list.
func (c *Client) SearchStores(ctx context.Context, storeIDs []string, queries []string) (*Grounding, error) {
	if len(storeIDs) == 0 {
		return &Grounding{}, nil
	}

	req := generateRequest{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: strings.Join(queries, "\n")}},
		}},
		Tools: []tool{{
			FileSearch: &fileSearchTool{FileSearchStoreNames: storeIDs},
		}},
	}

	var resp generateResponse
	err := c.makeRequest(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, apiVersion, searchModel),
		req, &resp)
	if err != nil {
		return nil, fmt.Errorf("search stores: %w", err)
	}

	grounding := &Grounding{}
	if len(resp.Candidates) == 0 {
		return grounding, nil
	}

	cand := resp.Candidates[0]
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
	}
	grounding.Text = text.String()

	if cand.GroundingMetadata != nil {
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk.RetrievedContext == nil {
				continue
			}
			grounding.Attributions = append(grounding.Attributions, Attribution{
				Title:   chunk.RetrievedContext.Title,
				URI:     chunk.RetrievedContext.URI,
				Snippet: chunk.RetrievedContext.Text,
			})
		}
	}

	c.logger.Debug("grounded search completed",
		"stores", len(storeIDs),
		"queries", len(queries),
		"attributions", len(grounding.Attributions))
	return grounding, nil
}

// DeleteStore removes a store and everything imported into it.
func (c *Client) DeleteStore(ctx context.Context, storeID string) error {
	url := fmt.Sprintf("%s/%s/%s?force=true", c.baseURL, apiVersion, storeID)
	if err := c.makeRequest(ctx, http.MethodDelete, url, nil, nil); err != nil {
		return fmt.Errorf("delete store %s: %w", storeID, err)
	}
	return nil
}

// DeleteBlob removes an uploaded blob. Imported copies inside stores are
// unaffected.
func (c *Client) DeleteBlob(ctx context.Context, blobID string) error {
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, apiVersion, blobID)
	if err := c.makeRequest(ctx, http.MethodDelete, url, nil, nil); err != nil {
		return fmt.Errorf("delete blob %s: %w", blobID, err)
	}
	return nil
}

// makeRequest is the shared JSON request helper.
func (c *Client) makeRequest(ctx context.Context, method, url string, body, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, result)
}

// do executes a prepared request, maps non-2xx statuses onto the fault
// taxonomy and unmarshals the response into result when non-nil.
func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fault.FromStatus(resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

// buildMultipartUpload assembles the metadata+media multipart body for a
// blob upload.
func buildMultipartUpload(data []byte, name, mimeType string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	metaPart, err := w.CreatePart(metaHeader)
	if err != nil {
		return nil, "", err
	}
	if err := json.NewEncoder(metaPart).Encode(uploadMetadata{File: fileMetadata{DisplayName: name}}); err != nil {
		return nil, "", err
	}

	mediaHeader := textproto.MIMEHeader{}
	mediaHeader.Set("Content-Type", mimeType)
	mediaPart, err := w.CreatePart(mediaHeader)
	if err != nil {
		return nil, "", err
	}
	if _, err := mediaPart.Write(data); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	contentType := "multipart/related; boundary=" + w.Boundary()
	return &buf, contentType, nil
}
