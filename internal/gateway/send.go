// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"os"
	"path/filepath"
	"strconv"
)

// User-facing messages for file processing failures.
const (
	MsgFileBackendUnavailable = "Backend not available. File processing requires an active backend connection."
	MsgFileProcessingFailed   = "Failed to process file. Please ensure the backend is running."
	MsgFileMissing            = "No file provided."
)

// =============================================================================
// ATTACHMENTS
// =============================================================================

// Attachment is a file sent alongside a message or to /process-file.
// Content is read once.
type Attachment struct {
	Name    string
	Content io.Reader
	Size    int64
}

// OpenAttachment loads the file at path into memory.
func OpenAttachment(path string) (*Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return &Attachment{
		Name:    filepath.Base(path),
		Content: bytes.NewReader(data),
		Size:    int64(len(data)),
	}, nil
}

// FormatFileSize renders a byte count as Bytes, KB or MB with up to two
// decimals, e.g. "0 Bytes", "1.5 KB", "2 MB".
func FormatFileSize(size int64) string {
	if size <= 0 {
		return "0 Bytes"
	}
	const k = 1024.0
	units := []string{"Bytes", "KB", "MB"}
	i := int(math.Floor(math.Log(float64(size)) / math.Log(k)))
	if i >= len(units) {
		i = len(units) - 1
	}
	v := math.Round(float64(size)/math.Pow(k, float64(i))*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + units[i]
}

// =============================================================================
// MULTIPART
// =============================================================================

type multipartForm struct {
	body        *bytes.Buffer
	contentType string
}

type formField struct {
	name, value string
}

func encodeForm(fields []formField, file *Attachment) (*multipartForm, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", f.name, err)
		}
	}
	if file != nil && file.Content != nil {
		name := file.Name
		if name == "" {
			name = "upload"
		}
		part, err := w.CreateFormFile("file", name)
		if err != nil {
			return nil, fmt.Errorf("create file part: %w", err)
		}
		if _, err := io.Copy(part, file.Content); err != nil {
			return nil, fmt.Errorf("copy file part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}
	return &multipartForm{body: body, contentType: w.FormDataContentType()}, nil
}

// =============================================================================
// SEND MESSAGE
// =============================================================================

// SendMessage sends text (and an optional file) to /chat. When the backend
// is unavailable, or the call fails in any way, the fallback reply for text
// is returned instead.
func (g *Gateway) SendMessage(ctx context.Context, text string, file *Attachment) Response {
	if !g.EnsureAvailability(ctx) {
		g.logger.Debug("sending fallback reply", "op", "chat", "reason", ErrUnavailable)
		return g.fallback.Respond(text)
	}

	resp, err := g.chat(ctx, text, file)
	if err != nil {
		g.markUnavailable("chat", err)
		return g.fallback.Respond(text)
	}
	return resp
}

func (g *Gateway) chat(ctx context.Context, text string, file *Attachment) (Response, error) {
	form, err := encodeForm([]formField{{"message", text}}, file)
	if err != nil {
		return Response{}, err
	}
	httpResp, err := g.postForm(ctx, "/chat", form)
	if err != nil {
		return Response{}, err
	}
	defer httpResp.Body.Close()

	result, err := decodeEnvelope(httpResp.Body)
	if err != nil {
		return Response{}, err
	}
	if rejected, ok := result.(errEnvelope); ok {
		return Response{}, fmt.Errorf("%w: %s", ErrBackendRejected, rejected.Reason)
	}
	return result.response(), nil
}

// =============================================================================
// PROCESS FILE
// =============================================================================

// ProcessFile submits file (and an optional query) to /process-file. There
// is no offline fallback: an unavailable backend or failed call yields a
// failure Response with a fixed message, and a backend rejection is passed
// through with the backend's reason.
func (g *Gateway) ProcessFile(ctx context.Context, file *Attachment, query string) Response {
	if file == nil || file.Content == nil {
		return failure(MsgFileMissing)
	}
	if !g.EnsureAvailability(ctx) {
		return failure(MsgFileBackendUnavailable)
	}

	fields := []formField{}
	if query != "" {
		fields = append(fields, formField{"query", query})
	}
	form, err := encodeForm(fields, file)
	if err != nil {
		g.logger.Warn("file processing failed", "file", file.Name, "error", err)
		return failure(MsgFileProcessingFailed)
	}

	httpResp, err := g.postForm(ctx, "/process-file", form)
	if err != nil {
		g.logger.Warn("file processing failed", "file", file.Name, "error", err)
		return failure(MsgFileProcessingFailed)
	}
	defer httpResp.Body.Close()

	result, err := decodeEnvelope(httpResp.Body)
	if err != nil {
		g.logger.Warn("file processing failed", "file", file.Name, "error", err)
		return failure(MsgFileProcessingFailed)
	}
	return result.response()
}
