// Package upload sends payment proof images to the asset host and returns
// their public URL.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/go_cart/storefront/internal/apperr"
)

const maxImageSize = 10 << 20

type Uploader interface {
	Upload(ctx context.Context, filename string, r io.Reader) (string, error)
}

type HTTPUploader struct {
	url    string
	preset string
	client *http.Client
}

// NewHTTPUploader posts unsigned uploads to url using the given preset.
func NewHTTPUploader(url, preset string, timeout time.Duration) *HTTPUploader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPUploader{
		url:    url,
		preset: preset,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (u *HTTPUploader) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	const op = "upload.proof"
	if u.url == "" {
		return "", apperr.New(apperr.KindInvalidInput, op, "upload endpoint is not configured")
	}
	if filename == "" {
		filename = "payment-proof.jpg"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", apperr.Wrap(apperr.KindUnknown, op, err)
	}
	n, err := io.Copy(part, io.LimitReader(r, maxImageSize+1))
	if err != nil {
		return "", apperr.Wrap(apperr.KindInvalidInput, op, fmt.Errorf("read image: %w", err))
	}
	if n > maxImageSize {
		return "", apperr.New(apperr.KindInvalidInput, op, "image exceeds 10MB")
	}
	if err := mw.WriteField("upload_preset", u.preset); err != nil {
		return "", apperr.Wrap(apperr.KindUnknown, op, err)
	}
	if err := mw.Close(); err != nil {
		return "", apperr.Wrap(apperr.KindUnknown, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, &body)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInvalidInput, op, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindNetworkError, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", apperr.Wrap(apperr.KindNetworkError, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperr.FromStatus(op, resp.StatusCode, raw, false)
	}

	var out struct {
		SecureURL string `json:"secure_url"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", apperr.Wrap(apperr.KindServerError, op, fmt.Errorf("decode upload response: %w", err))
	}
	if strings.TrimSpace(out.SecureURL) == "" {
		return "", apperr.New(apperr.KindServerError, op, "upload response has no secure_url")
	}
	return out.SecureURL, nil
}
