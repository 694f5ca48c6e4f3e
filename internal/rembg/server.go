package rembg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/bdougie/cutout/internal/httpclient"
)

const removePath = "/api/remove"

// ServerRemBG calls a rembg HTTP server (`rembg s`), posting the image as the
// multipart field "file" and reading the PNG response body.
type ServerRemBG struct {
	baseURL string
	timeout time.Duration
	cli     httpclient.IClient
	logger  *slog.Logger
}

func NewServerRemBG(baseURL string, timeout time.Duration, cli httpclient.IClient, logger *slog.Logger) *ServerRemBG {
	if cli == nil {
		cli = httpclient.NewHTTPClientWithTimeout(timeout)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerRemBG{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		cli:     cli,
		logger:  logger,
	}
}

/*
	curl -X POST "$REMBG_URL/api/remove" -F "file=@input.png" -o output.png
*/
func (s *ServerRemBG) Remove(ctx context.Context, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	var out []byte
	reqParam := &httpclient.RequestParam{
		RequestURI: s.baseURL + removePath,
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   &out,
		Timeout:    s.timeout,
	}
	if err := s.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("rembg request: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("rembg returned an empty body")
	}

	s.logger.Debug("background removed", "in_bytes", len(data), "out_bytes", len(out))
	return out, nil
}
