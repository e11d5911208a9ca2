package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HTTPImageHost uploads image bytes to an image-hosting endpoint with bearer
// auth and returns the hosted URL.
type HTTPImageHost struct {
	uploadURL string
	apiKey    string
	folder    string
	client    *http.Client
}

// NewHTTPImageHost builds an image host client. timeout <= 0 defaults to 30s.
func NewHTTPImageHost(uploadURL, apiKey, folder string, timeout time.Duration) *HTTPImageHost {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPImageHost{
		uploadURL: strings.TrimRight(strings.TrimSpace(uploadURL), "/"),
		apiKey:    apiKey,
		folder:    folder,
		client:    &http.Client{Timeout: timeout},
	}
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
}

// Upload posts the image as multipart form data and returns the URL the
// host assigned.
func (h *HTTPImageHost) Upload(ctx context.Context, data []byte, mime string) (string, error) {
	if h.uploadURL == "" {
		return "", fmt.Errorf("image host upload url is not configured")
	}
	if len(data) == 0 {
		return "", fmt.Errorf("image payload is empty")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", uuid.NewString()+extForMime(mime))
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write upload payload: %w", err)
	}
	if h.folder != "" {
		if err := writer.WriteField("folder", h.folder); err != nil {
			return "", fmt.Errorf("write upload folder: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.uploadURL, &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("upload status: %d", resp.StatusCode)
	}

	var parsed uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	url := strings.TrimSpace(parsed.SecureURL)
	if url == "" {
		url = strings.TrimSpace(parsed.URL)
	}
	if url == "" {
		return "", fmt.Errorf("upload response carries no url")
	}
	return url, nil
}

func extForMime(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
