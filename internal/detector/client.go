// Package detector is a typed HTTP client for the external object
// detection model service.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/GermaMirn/LineGuard-AI/internal/apperr"
	"github.com/GermaMirn/LineGuard-AI/internal/model"
)

const (
	timeout  = 60 * time.Second
	maxBytes = 512 * 1024 * 1024
)

// Result is the Predict response.
type Result struct {
	Detections   []model.Detection `json:"detections"`
	Statistics   map[string]int    `json:"statistics"`
	TotalObjects int               `json:"total_objects"`
	DefectsCount int               `json:"defects_count"`
	HasDefects   bool              `json:"has_defects"`
}

// ToSummary converts a detector Result into the persisted Summary shape.
func (r Result) ToSummary() *model.Summary {
	return &model.Summary{
		Detections:   r.Detections,
		Statistics:   r.Statistics,
		TotalObjects: r.TotalObjects,
		DefectsCount: r.DefectsCount,
		HasDefects:   r.HasDefects,
	}
}

// Client is the Detector Gateway.
type Client struct {
	baseURL  string
	http     *http.Client
	maxBytes int64
}

// New builds a Client against the given detector service base URL with
// the default per-image size limit.
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{}, maxBytes: maxBytes}
}

// NewWithLimit builds a Client whose per-image size limit is maxSizeMB
// mebibytes; zero or negative keeps the default.
func NewWithLimit(baseURL string, maxSizeMB int) *Client {
	c := New(baseURL)
	if maxSizeMB > 0 {
		c.maxBytes = int64(maxSizeMB) << 20
	}
	return c
}

// Predict sends one image buffer to the detector.
func (c *Client) Predict(ctx context.Context, name string, data []byte, contentType string, threshold float64) (*Result, error) {
	if int64(len(data)) > c.maxBytes {
		return nil, apperr.New(apperr.KindOversize, fmt.Sprintf("image exceeds %d MiB detector limit", c.maxBytes>>20))
	}

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "build predict form", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "write predict form", err)
	}
	if err := w.Close(); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "close predict form", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("%s/predict?conf=%s", c.baseURL, strconv.FormatFloat(threshold, 'f', -1, 64))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "build predict request", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, "detector timed out", ctx.Err())
		}
		return nil, apperr.Wrap(apperr.KindUnavailable, "call detector", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, apperr.New(apperr.KindUnavailable, fmt.Sprintf("detector unavailable: status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		var detail struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&detail)
		msg := detail.Detail
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, apperr.New(apperr.KindDetectorError, msg)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "decode detector response", err)
	}
	for i := range result.Detections {
		result.Detections[i].BBoxSize = model.NewBBoxSize(result.Detections[i].BBox)
		if result.Detections[i].DefectSummary == nil && model.IsDefectiveClass(result.Detections[i].Class) {
			result.Detections[i].DefectSummary = &model.DefectSummary{Type: "model", Severity: "detected"}
		}
	}
	return &result, nil
}
