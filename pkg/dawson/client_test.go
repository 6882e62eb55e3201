package dawson

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmarcus006/web-scraper-legal/pkg/config"
	"github.com/mmarcus006/web-scraper-legal/pkg/errors"
	"github.com/mmarcus006/web-scraper-legal/pkg/logger"
	"github.com/mmarcus006/web-scraper-legal/pkg/ratelimit"
)

const testEntryID = "00000000-0000-0000-0000-000000000001"

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.APIConfig{
		BaseURL:           server.URL,
		Timeout:           5 * time.Second,
		MaxRetries:        3,
		RetryDelay:        time.Millisecond,
		UserAgent:         "test-agent",
		MaxConnections:    10,
		MaxConnsPerHost:   10,
		RequestsPerSecond: 1000,
		RequestBurst:      1000,
	}
	return New(cfg, logger.Nop())
}

func TestSearchOpinionsBareArray(t *testing.T) {
	var gotQuery atomic.Value
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/opinion-search", r.URL.Path)
		gotQuery.Store(r.URL.Query())
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{
				"docketEntryId":   testEntryID,
				"docketNumber":    "12345-20",
				"caseCaption":     "Smith v. Commissioner",
				"documentTitle":   "Memorandum Opinion",
				"filingDate":      "2023-05-17T04:00:00.000Z",
				"signedJudgeName": "Judge Example",
				"numberOfPages":   12,
			},
		})
	}))

	from := time.Date(2023, time.May, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2023, time.May, 31, 0, 0, 0, 0, time.UTC)
	opinions, err := client.SearchOpinions(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, opinions, 1)

	assert.Equal(t, "12345-20", opinions[0].DocketNumber)
	assert.Equal(t, "Judge Example", opinions[0].Judge)
	assert.Equal(t, 12, opinions[0].NumberOfPages)

	query := gotQuery.Load().(url.Values)
	assert.Equal(t, []string{"05/01/2023"}, query["from"])
	assert.Equal(t, []string{"05/31/2023"}, query["to"])
}

func TestSearchOpinionsWrappedAndFiltered(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Wrapped shape, with one invalid item that must be dropped and
		// one valid item missing the optional judge.
		fmt.Fprintf(w, `{"opinions": [
			{"docketEntryId": "not-a-uuid", "docketNumber": "1-20"},
			{"docketEntryId": %q, "docketNumber": "2-20", "filingDate": "2023-05-02"}
		]}`, testEntryID)
	}))

	opinions, err := client.SearchOpinions(context.Background(),
		time.Now().AddDate(0, -1, 0), time.Now())
	require.NoError(t, err)
	require.Len(t, opinions, 1)
	assert.Equal(t, "2-20", opinions[0].DocketNumber)
	assert.Empty(t, opinions[0].Judge)
}

func TestSearchOpinionsEmpty(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}))

	opinions, err := client.SearchOpinions(context.Background(), time.Now(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, opinions)
}

func TestResolveDownloadURL(t *testing.T) {
	t.Run("object response", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/12345-20/"+testEntryID+"/public-document-download-url", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn.example.com/doc.pdf"})
		}))

		url, err := client.ResolveDownloadURL(context.Background(), "12345-20", testEntryID)
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example.com/doc.pdf", url)
	})

	t.Run("bare string response", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`"https://cdn.example.com/doc.pdf"`))
		}))

		url, err := client.ResolveDownloadURL(context.Background(), "12345-20", testEntryID)
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example.com/doc.pdf", url)
	})

	t.Run("missing url", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}))

		_, err := client.ResolveDownloadURL(context.Background(), "12345-20", testEntryID)
		require.Error(t, err)
		var apiErr *errors.Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, errors.KindParsing, apiErr.Kind)
	})
}

func TestNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.ResolveDownloadURL(context.Background(), "12345-20", testEntryID)
	require.Error(t, err)

	var apiErr *errors.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, errors.KindNotFound, apiErr.Kind)
	assert.Equal(t, 404, apiErr.Code)
	assert.Equal(t, int64(1), calls.Load(), "404 must not be retried")
}

func TestServerErrorIsRetried(t *testing.T) {
	var calls atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"url": "https://cdn.example.com/doc.pdf"}`))
	}))

	url, err := client.ResolveDownloadURL(context.Background(), "12345-20", testEntryID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/doc.pdf", url)
	assert.Equal(t, int64(3), calls.Load())
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.SearchOpinions(context.Background(), time.Now(), time.Now())
	require.Error(t, err)
	assert.Equal(t, int64(3), calls.Load(), "all attempts consumed")
	assert.Contains(t, err.Error(), "max retry attempts")
}

func TestFetchDocument(t *testing.T) {
	body := []byte("%PDF-1.7 document bytes")
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))

	rc, length, err := client.FetchDocument(context.Background(), client.baseURL+"/doc.pdf")
	require.NoError(t, err)
	defer rc.Close()

	assert.Equal(t, int64(len(body)), length)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestRequestHeaders(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "custom-value", r.Header.Get("X-Custom"))
		w.Write([]byte("[]"))
	}))
	client.SetHeader("X-Custom", "custom-value")

	_, err := client.SearchOpinions(context.Background(), time.Now(), time.Now())
	require.NoError(t, err)
}

func TestLimiterIsConsulted(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}))
	client.limiter = ratelimit.Unlimited{}

	_, err := client.SearchOpinions(context.Background(), time.Now(), time.Now())
	require.NoError(t, err)
}
