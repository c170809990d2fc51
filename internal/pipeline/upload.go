package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"

	"github.com/cenkalti/backoff/v5"
	"github.com/zulandar/paperdeck/internal/files"
)

// Upload sends the file at path to the storage backend and returns the
// server-assigned identity. Transient failures are retried with
// exponential backoff; client errors are not.
func (c *Client) Upload(ctx context.Context, path string, ref files.FileRef) (files.Upload, error) {
	body, contentType, err := multipartBody(path, ref)
	if err != nil {
		return files.Upload{}, fmt.Errorf("pipeline: upload %s: %w", ref.DisplayName(), err)
	}

	attempt := 0
	op := func() (files.Upload, error) {
		attempt++
		var up files.Upload
		err := c.doJSON(ctx, http.MethodPost, UploadPath, contentType, bytes.NewReader(body), &up)
		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && !httpErr.Retryable() {
				return files.Upload{}, backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return files.Upload{}, backoff.Permanent(ctx.Err())
			}
			log.Printf("pipeline: upload %s attempt %d failed: %v", ref.DisplayName(), attempt, err)
			return files.Upload{}, err
		}
		return up, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	up, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.maxAttempts)),
	)
	if err != nil {
		return files.Upload{}, fmt.Errorf("pipeline: upload %s: %w", ref.DisplayName(), err)
	}
	if up.URL == "" {
		return files.Upload{}, fmt.Errorf("pipeline: upload %s: response missing url", ref.DisplayName())
	}
	if up.Name == "" && up.Filename == "" {
		up.Name = ref.DisplayName()
	}
	return up, nil
}

// multipartBody buffers the file so retries can resend it.
func multipartBody(path string, ref files.FileRef) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	name := ref.DisplayName()
	if name == "" {
		name = filepath.Base(path)
	}
	mimeType := ref.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
