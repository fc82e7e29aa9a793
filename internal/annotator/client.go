// Package annotator is a typed HTTP client for the external annotation
// overlay service, used by the Intake API's annotate endpoint. This is
// the external collaborator that actually produces a new annotated blob
// from a file_id + boxes; it is distinct
// from internal/render, which this module's own Worker uses to draw the
// detector's boxes onto the output archive.
package annotator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/GermaMirn/LineGuard-AI/internal/apperr"
	"github.com/GermaMirn/LineGuard-AI/internal/model"
)

const timeout = 30 * time.Second

// Box is one client-drawn annotation box.
type Box struct {
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Name     string `json:"name,omitempty"`
	IsDefect *bool  `json:"is_defect,omitempty"`
}

// ToManualBox converts the wire Box into the model's ManualBox.
func (b Box) ToManualBox() model.ManualBox {
	return model.ManualBox{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height, Name: b.Name, IsDefect: b.IsDefect}
}

// Response is the Annotate response.
type Response struct {
	Success  bool      `json:"success"`
	FileID   uuid.UUID `json:"file_id"`
	Filename string    `json:"filename"`
	Message  string    `json:"message"`
}

// Client is the Annotator Gateway.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client against the given annotation service base URL.
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{}}
}

// Annotate calls POST /annotations/annotate.
func (c *Client) Annotate(ctx context.Context, fileID uuid.UUID, boxes []Box, projectID uuid.UUID, fileType string) (*Response, error) {
	payload := map[string]any{
		"file_id":    fileID,
		"bboxes":     boxes,
		"project_id": projectID,
		"file_type":  fileType,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "marshal annotate request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/annotations/annotate", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "build annotate request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "call annotator", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, apperr.New(apperr.KindUnavailable, fmt.Sprintf("annotator unavailable: status %d", resp.StatusCode))
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
		return nil, apperr.New(apperr.KindAnnotatorError, msg)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "decode annotate response", err)
	}
	return &out, nil
}
