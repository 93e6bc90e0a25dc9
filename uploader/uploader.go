// Package uploader pushes finished video recordings to the backing
// store, reporting upload progress as a percentage.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"
)

// Uploader posts video blobs to a multipart endpoint.
type Uploader struct {
	endpoint string
	httpc    *http.Client
	log      *log.Logger
}

// New creates an uploader for the given endpoint URL.
func New(endpoint string, logger *log.Logger) *Uploader {
	return &Uploader{
		endpoint: endpoint,
		httpc:    &http.Client{Timeout: 10 * time.Minute},
		log:      logger,
	}
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload sends the blob associated with contentID and returns the
// stored URL. progress, if non-nil, is called with 0-100 as request
// bytes go out; it always ends on 100 for a successful upload.
func (u *Uploader) Upload(ctx context.Context, contentID string, blob []byte, mimeType string, progress func(pct int)) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("contentId", contentID); err != nil {
		return "", fmt.Errorf("write field: %w", err)
	}
	part, err := mw.CreateFormFile("video", fileName(mimeType))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(blob); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	reader := &progressReader{
		r:        bytes.NewReader(body.Bytes()),
		total:    int64(body.Len()),
		progress: progress,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, reader)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.ContentLength = int64(body.Len())

	resp, err := u.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("upload: status %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("upload: response carried no url")
	}
	if progress != nil {
		progress(100)
	}
	u.log.Printf("uploaded %d bytes for content %s", len(blob), contentID)
	return out.URL, nil
}

func fileName(mimeType string) string {
	if mimeType == "video/mp4" {
		return "recording.mp4"
	}
	return "recording.bin"
}

// progressReader reports cumulative read percentage as the HTTP client
// drains the request body.
type progressReader struct {
	r        *bytes.Reader
	total    int64
	sent     int64
	lastPct  int
	progress func(pct int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.sent += int64(n)
	if p.progress != nil && p.total > 0 {
		pct := int(p.sent * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		if pct != p.lastPct {
			p.lastPct = pct
			p.progress(pct)
		}
	}
	return n, err
}
