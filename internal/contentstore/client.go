// Package contentstore uploads receipt blobs to Lighthouse (IPFS/Filecoin).
package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	apperrors "github.com/suspectuso/pay-anchor/internal/errors"
	"github.com/suspectuso/pay-anchor/internal/receipt"
)

// Provider is recorded on intents alongside the content identifier.
const Provider = "lighthouse"

const maxDiagnosticBody = 2048

// Stored is the result of a successful upload.
type Stored struct {
	ContentID string
	Locator   string
	Provider  string
}

// Client is a Lighthouse HTTP client.
type Client struct {
	uploadURL  string
	gatewayURL string
	apiKey     string
	httpClient *http.Client

	// Rate limiting
	mu       sync.Mutex
	lastCall time.Time
	minDelay time.Duration
}

// NewClient creates a new Lighthouse client.
func NewClient(uploadURL, gatewayURL, apiKey string) *Client {
	return &Client{
		uploadURL:  uploadURL,
		gatewayURL: strings.TrimSuffix(gatewayURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		minDelay: 200 * time.Millisecond,
	}
}

func (c *Client) throttle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.lastCall)
	if elapsed < c.minDelay {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.minDelay - elapsed):
		}
	}
	c.lastCall = time.Now()
	return nil
}

// uploadResponse is the body returned by /api/v0/add.
type uploadResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Store uploads the receipt and returns its content identifier and gateway locator.
// It does not retry.
func (c *Client) Store(ctx context.Context, r receipt.Receipt) (Stored, error) {
	if c.apiKey == "" {
		return Stored{}, apperrors.New(apperrors.KindStorageUnavailable, "lighthouse api key missing")
	}

	blob, err := r.Marshal()
	if err != nil {
		return Stored{}, apperrors.Wrap(apperrors.KindInternal, "marshal receipt", err)
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", r.Filename())
	if err != nil {
		return Stored{}, apperrors.Wrap(apperrors.KindInternal, "create form file", err)
	}
	if _, err := part.Write(blob); err != nil {
		return Stored{}, apperrors.Wrap(apperrors.KindInternal, "write form file", err)
	}
	if err := form.Close(); err != nil {
		return Stored{}, apperrors.Wrap(apperrors.KindInternal, "close form", err)
	}

	if err := c.throttle(ctx); err != nil {
		return Stored{}, apperrors.Wrap(apperrors.KindStorageUnavailable, "lighthouse upload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, &body)
	if err != nil {
		return Stored{}, apperrors.Wrap(apperrors.KindInternal, "create request", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Stored{}, apperrors.Wrap(apperrors.KindStorageUnavailable, "lighthouse upload", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Stored{}, apperrors.Wrap(apperrors.KindStorageUnavailable, "read body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Stored{}, apperrors.WithMetadata(apperrors.KindStorageUnavailable,
			fmt.Sprintf("lighthouse error %d", resp.StatusCode),
			map[string]string{
				apperrors.MetaUpstreamStatus: strconv.Itoa(resp.StatusCode),
				apperrors.MetaUpstreamBody:   truncate(string(data), maxDiagnosticBody),
			})
	}

	var out uploadResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Stored{}, apperrors.WrapWithMetadata(apperrors.KindStorageUnavailable, "unmarshal upload response",
			map[string]string{apperrors.MetaUpstreamBody: truncate(string(data), maxDiagnosticBody)}, err)
	}
	if out.Hash == "" {
		return Stored{}, apperrors.WithMetadata(apperrors.KindStorageUnavailable, "lighthouse returned no hash",
			map[string]string{apperrors.MetaUpstreamBody: truncate(string(data), maxDiagnosticBody)})
	}

	return Stored{
		ContentID: out.Hash,
		Locator:   c.Locator(out.Hash),
		Provider:  Provider,
	}, nil
}

// Locator returns the public gateway URL for a content identifier.
func (c *Client) Locator(contentID string) string {
	return c.gatewayURL + "/" + contentID
}

// truncate keeps at most n bytes of s without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
