// Package upload serializes a session's event log to a compressed archive
// and posts it, with the media recording raced alongside.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/webolmo/recorder/internal/event"
)

// DefaultUploadURL receives sessions that never got an endpoint
// configured.
const DefaultUploadURL = "https://webolmo-data.allen.ai/upload"

// StatusError reports a non-2xx response from the events upload.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upload error %d: %s", e.Status, e.Body)
}

type Pipeline struct {
	client *http.Client
	logger logrus.FieldLogger
}

func NewPipeline(client *http.Client, logger logrus.FieldLogger) *Pipeline {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Pipeline{
		client: client,
		logger: logger.WithField("component", "upload"),
	}
}

// UploadSession posts the compressed event archive to uploadURL and
// returns the redirect location from the response body. The media
// recording, when present, is posted concurrently; its outcome is logged
// but does not affect the result. Repeat calls with the same arguments
// produce repeat uploads — retries rely on the endpoint tolerating
// re-uploads.
func (p *Pipeline) UploadSession(ctx context.Context, entries []event.Entry, media []byte, uploadURL, sessionID string) (string, error) {
	if uploadURL == "" {
		uploadURL = DefaultUploadURL
	}

	if len(media) > 0 {
		go func() {
			if err := p.uploadMedia(context.WithoutCancel(ctx), media, uploadURL, sessionID); err != nil {
				p.logger.WithError(err).Warn("media upload failed")
			}
		}()
	}

	return p.uploadEvents(ctx, entries, uploadURL, sessionID)
}

func (p *Pipeline) uploadEvents(ctx context.Context, entries []event.Entry, uploadURL, sessionID string) (string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := filePart(mw, sessionID+".gz", "application/gzip")
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := WriteArchive(part, entries); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	body, err := p.post(ctx, uploadURL, mw.FormDataContentType(), pr)
	if err != nil {
		return "", err
	}
	return body, nil
}

func (p *Pipeline) uploadMedia(ctx context.Context, media []byte, uploadURL, sessionID string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := filePart(mw, sessionID+".webm", "video/webm")
	if err != nil {
		return err
	}
	if _, err := part.Write(media); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	_, err = p.post(ctx, uploadURL, mw.FormDataContentType(), &buf)
	return err
}

func (p *Pipeline) post(ctx context.Context, uploadURL, contentType string, body io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, body)
	if err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting to %s: %w", uploadURL, err)
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Status: resp.StatusCode, Body: string(text)}
	}
	return string(text), nil
}

func filePart(mw *multipart.Writer, filename, contentType string) (io.Writer, error) {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	return mw.CreatePart(h)
}

// WriteArchive streams entries as a gzip-compressed JSON array. Entries
// are encoded one at a time so a long session's log is never materialized
// as a single string.
func WriteArchive(w io.Writer, entries []event.Entry) error {
	gz := gzip.NewWriter(w)
	if err := writeJSONArray(gz, entries); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

func writeJSONArray(w io.Writer, entries []event.Entry) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	for i, entry := range entries {
		if i > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		raw, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encoding entry %d: %w", i, err)
		}
		if _, err := w.Write(raw); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "]")
	return err
}
