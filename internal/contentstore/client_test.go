package contentstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/suspectuso/pay-anchor/internal/errors"
	"github.com/suspectuso/pay-anchor/internal/intent"
	"github.com/suspectuso/pay-anchor/internal/receipt"
)

func testReceipt(t *testing.T) receipt.Receipt {
	t.Helper()
	cmd, err := intent.ParseCommand("PAY 35.50 HACK001")
	require.NoError(t, err)
	return receipt.Build(intent.PaymentIntent{UpdatedAt: time.Unix(1700000000, 0)}, cmd, "")
}

func TestStoreUploadsMultipartReceipt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		assert.Equal(t, "HACK001.json", header.Filename)

		raw, _ := io.ReadAll(file)
		var doc map[string]any
		assert.NoError(t, json.Unmarshal(raw, &doc))
		assert.Equal(t, "HACK001", doc["code"])

		_, _ = w.Write([]byte(`{"Name":"HACK001.json","Hash":"bafkreitest","Size":"123"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/v0/add", "https://gateway.example/ipfs/", "secret")
	out, err := c.Store(context.Background(), testReceipt(t))
	require.NoError(t, err)
	assert.Equal(t, Stored{
		ContentID: "bafkreitest",
		Locator:   "https://gateway.example/ipfs/bafkreitest",
		Provider:  Provider,
	}, out)
}

func TestStoreNon2xxCarriesUpstreamDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte("quota exceeded"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "https://gateway.example/ipfs", "secret")
	_, err := c.Store(context.Background(), testReceipt(t))
	require.Error(t, err)

	e, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindStorageUnavailable, e.Kind)
	assert.Equal(t, "402", e.Meta(apperrors.MetaUpstreamStatus))
	assert.Equal(t, "quota exceeded", e.Meta(apperrors.MetaUpstreamBody))
}

func TestStoreMissingCredential(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", "https://gateway.example/ipfs", "")
	_, err := c.Store(context.Background(), testReceipt(t))
	assert.Equal(t, apperrors.KindStorageUnavailable, apperrors.KindOf(err))
}

func TestStoreUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, "https://gateway.example/ipfs", "secret")
	_, err := c.Store(context.Background(), testReceipt(t))
	assert.Equal(t, apperrors.KindStorageUnavailable, apperrors.KindOf(err))
}

func TestStoreMissingHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Name":"x"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "https://gateway.example/ipfs", "secret")
	_, err := c.Store(context.Background(), testReceipt(t))
	assert.Equal(t, apperrors.KindStorageUnavailable, apperrors.KindOf(err))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ab...", truncate("abcdef", 2))

	// "é" is two bytes; a cut after its first byte backs off to "a"
	got := truncate("aéz", 2)
	assert.Equal(t, "a...", got)
	assert.True(t, utf8.ValidString(got))

	body := strings.Repeat("ñ", maxDiagnosticBody)
	got = truncate(body, maxDiagnosticBody+1)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), maxDiagnosticBody+1+len("..."))
}
