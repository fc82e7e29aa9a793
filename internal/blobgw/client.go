// Package blobgw is a typed HTTP client for the external blob service.
// It never stores state itself; ids are opaque tokens round-tripped
// verbatim. Timeouts are applied per call via context.
package blobgw

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/GermaMirn/LineGuard-AI/internal/apperr"
)

const (
	singleTimeout = 30 * time.Second
	batchTimeout  = 60 * time.Second
)

// FileType labels the kind of blob being stored, matching the original
// file_type query/form field (ORIGINAL, PREVIEW, ANALYSIS_ARCHIVE).
type FileType string

const (
	FileTypeOriginal        FileType = "ORIGINAL"
	FileTypePreview         FileType = "PREVIEW"
	FileTypeAnalysisArchive FileType = "ANALYSIS_ARCHIVE"
)

// BlobRef identifies a stored blob.
type BlobRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"file_name"`
	Size int64     `json:"file_size"`
}

// Metadata is the GetMetadata response.
type Metadata struct {
	Name string `json:"file_name"`
	Mime string `json:"mime_type"`
	Size int64  `json:"file_size"`
}

// Upload is one in-memory item to upload.
type Upload struct {
	Bytes       []byte
	Name        string
	ContentType string
}

// Client is the Blob Gateway.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client against the given blob service base URL.
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{}}
}

// Upload uploads a single blob.
func (c *Client) Upload(ctx context.Context, u Upload, projectID uuid.UUID, ft FileType) (*BlobRef, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", u.Name)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "build upload form", err)
	}
	if _, err := part.Write(u.Bytes); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "write upload form", err)
	}
	_ = w.WriteField("project_id", projectID.String())
	_ = w.WriteField("file_type", string(ft))
	if err := w.Close(); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "close upload form", err)
	}

	ctx, cancel := context.WithTimeout(ctx, singleTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/upload", body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "build upload request", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "upload blob", err)
	}
	defer resp.Body.Close()
	if err := statusErr(resp); err != nil {
		return nil, err
	}

	var ref BlobRef
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "decode upload response", err)
	}
	return &ref, nil
}

// BatchResult is one item of a BatchUpload response; partial success is
// reported per item.
type BatchResult struct {
	Ref   *BlobRef
	Error string
}

// BatchUpload uploads many blobs in one round trip.
func (c *Client) BatchUpload(ctx context.Context, uploads []Upload, projectID uuid.UUID, ft FileType) ([]BatchResult, error) {
	if len(uploads) == 0 {
		return nil, nil
	}
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, u := range uploads {
		part, err := w.CreateFormFile("files", u.Name)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "build batch upload form", err)
		}
		if _, err := part.Write(u.Bytes); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "write batch upload form", err)
		}
	}
	_ = w.WriteField("project_id", projectID.String())
	_ = w.WriteField("file_type", string(ft))
	if err := w.Close(); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "close batch upload form", err)
	}

	ctx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/batch-upload", body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "build batch upload request", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "batch upload blobs", err)
	}
	defer resp.Body.Close()
	if err := statusErr(resp); err != nil {
		return nil, err
	}

	var payload struct {
		Files  []BlobRef `json:"files"`
		Total  int       `json:"total"`
		Failed int       `json:"failed"`
		Errors []string  `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "decode batch upload response", err)
	}

	out := make([]BatchResult, 0, len(payload.Files)+len(payload.Errors))
	for i := range payload.Files {
		ref := payload.Files[i]
		out = append(out, BatchResult{Ref: &ref})
	}
	for _, e := range payload.Errors {
		out = append(out, BatchResult{Error: e})
	}
	return out, nil
}

// Download fetches raw bytes for a blob.
func (c *Client) Download(ctx context.Context, id uuid.UUID) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, singleTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/files/%s/download", c.baseURL, id), nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "build download request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "download blob", err)
	}
	defer resp.Body.Close()
	if err := statusErr(resp); err != nil {
		return nil, err
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "read download body", err)
	}
	return b, nil
}

// BatchDownloaded is one item of a BatchDownload response.
type BatchDownloaded struct {
	ID       uuid.UUID
	Name     string
	Bytes    []byte
	MimeType string
}

// BatchDownload fetches many blobs in one round trip. Payloads are
// transported as base64 over JSON by the blob service; BatchDownload
// transparently re-decodes them.
func (c *Client) BatchDownload(ctx context.Context, ids []uuid.UUID) ([]BatchDownloaded, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	reqBody, err := json.Marshal(map[string]any{"file_ids": ids})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "marshal batch download request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/batch-download", bytes.NewReader(reqBody))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "build batch download request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "batch download blobs", err)
	}
	defer resp.Body.Close()
	if err := statusErr(resp); err != nil {
		return nil, err
	}

	var payload struct {
		Files []struct {
			FileID        uuid.UUID `json:"file_id"`
			FileName      string    `json:"file_name"`
			ContentBase64 string    `json:"content_base64"`
			MimeType      string    `json:"mime_type"`
		} `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "decode batch download response", err)
	}

	out := make([]BatchDownloaded, 0, len(payload.Files))
	for _, f := range payload.Files {
		raw, err := base64.StdEncoding.DecodeString(f.ContentBase64)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, "decode base64 blob payload", err)
		}
		out = append(out, BatchDownloaded{ID: f.FileID, Name: f.FileName, Bytes: raw, MimeType: f.MimeType})
	}
	return out, nil
}

// GetMetadata fetches a blob's metadata.
func (c *Client) GetMetadata(ctx context.Context, id uuid.UUID) (*Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, singleTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/files/%s", c.baseURL, id), nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "build metadata request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "get blob metadata", err)
	}
	defer resp.Body.Close()
	if err := statusErr(resp); err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "decode metadata response", err)
	}
	return &m, nil
}

// Delete removes a blob. If ignoreMissing is true, a 404 is treated as
// success (idempotent delete).
func (c *Client) Delete(ctx context.Context, id uuid.UUID, ignoreMissing bool) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, singleTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/files/%s", c.baseURL, id), nil)
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "build delete request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, apperr.Wrap(apperr.KindUnavailable, "delete blob", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound && ignoreMissing {
		return true, nil
	}
	if err := statusErr(resp); err != nil {
		return false, err
	}
	return true, nil
}

func statusErr(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return apperr.New(apperr.KindNotFound, "blob not found")
	case http.StatusRequestEntityTooLarge:
		return apperr.New(apperr.KindOversize, "blob exceeds service size limit")
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperr.New(apperr.KindValidation, "blob service rejected the request")
	default:
		if resp.StatusCode >= 500 {
			return apperr.New(apperr.KindUnavailable, fmt.Sprintf("blob service returned %d", resp.StatusCode))
		}
		return apperr.New(apperr.KindValidation, fmt.Sprintf("blob service returned %d", resp.StatusCode))
	}
}
