package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-backup/internal/domain"
	apperrors "github.com/kurihiro0119/github-backup/internal/errors"
)

// pagedServer serves pages[i] at /items?page=i+1 with a next link on all but the last.
func pagedServer(t *testing.T, pages []string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		page := 1
		fmt.Sscanf(r.URL.Query().Get("page"), "%d", &page)
		if page < 1 || page > len(pages) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if page < len(pages) {
			w.Header().Set("Link", fmt.Sprintf(`<%s/items?page=%d>; rel="next", <%s/items?page=%d>; rel="last"`,
				server.URL, page+1, server.URL, len(pages)))
		}
		fmt.Fprint(w, pages[page-1])
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func decodeInts(t *testing.T, raw []json.RawMessage) []int {
	t.Helper()
	out := make([]int, 0, len(raw))
	for _, r := range raw {
		var v struct {
			ID int `json:"id"`
		}
		require.NoError(t, json.Unmarshal(r, &v))
		out = append(out, v.ID)
	}
	return out
}

func TestFetchAll(t *testing.T) {
	t.Run("stops after the page without a next link", func(t *testing.T) {
		server, calls := pagedServer(t, []string{
			`[{"id":1},{"id":2}]`,
			`[{"id":3}]`,
		})
		client := New(server.Client())

		items, err := client.FetchAll(t.Context(), server.URL+"/items")

		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, decodeInts(t, items))
		assert.Equal(t, int32(2), atomic.LoadInt32(calls), "must not request a third page")
	})

	t.Run("length is the sum of page lengths in arrival order", func(t *testing.T) {
		server, _ := pagedServer(t, []string{
			`[{"id":5},{"id":4}]`,
			`[]`,
			`[{"id":9},{"id":1},{"id":1}]`,
		})
		client := New(server.Client())

		items, err := client.FetchAll(t.Context(), server.URL+"/items")

		require.NoError(t, err)
		assert.Equal(t, []int{5, 4, 9, 1, 1}, decodeInts(t, items), "no reordering or dedup")
	})

	t.Run("empty collection is an empty sequence", func(t *testing.T) {
		server, _ := pagedServer(t, []string{`[]`})

		items, err := New(server.Client()).FetchAll(t.Context(), server.URL+"/items")

		require.NoError(t, err)
		assert.NotNil(t, items)
		assert.Empty(t, items)
	})

	t.Run("non-success status on a later page fails the fetch", func(t *testing.T) {
		var server *httptest.Server
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("page") == "2" {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Header().Set("Link", fmt.Sprintf(`<%s/items?page=2>; rel="next"`, server.URL))
			fmt.Fprint(w, `[{"id":1}]`)
		}))
		defer server.Close()

		_, err := New(server.Client()).FetchAll(t.Context(), server.URL+"/items")

		require.Error(t, err)
		assert.True(t, apperrors.IsHTTPError(err))
		assert.Equal(t, http.StatusBadGateway, apperrors.HTTPStatus(err))
	})

	t.Run("body that is not an array is a parse error", func(t *testing.T) {
		for _, body := range []string{`{"message":"hi"}`, `[{"id":1}`, `null`} {
			server, _ := pagedServer(t, []string{body})

			_, err := New(server.Client()).FetchAll(t.Context(), server.URL+"/items")

			require.Error(t, err, body)
			assert.True(t, apperrors.IsParseError(err), body)
		}
	})

	t.Run("malformed next link ends pagination", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.Header().Set("Link", `garbage; rel=next`)
			fmt.Fprint(w, `[{"id":1}]`)
		}))
		defer server.Close()

		items, err := New(server.Client()).FetchAll(t.Context(), server.URL+"/items")

		require.NoError(t, err)
		assert.Len(t, items, 1)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}

func TestPagesIsLazy(t *testing.T) {
	server, calls := pagedServer(t, []string{`[{"id":1}]`, `[{"id":2}]`, `[{"id":3}]`})
	client := New(server.Client())

	var first *domain.Page
	for page, err := range client.Pages(t.Context(), server.URL+"/items") {
		require.NoError(t, err)
		first = page
		break
	}

	require.NotNil(t, first)
	assert.Len(t, first.Items, 1)
	assert.Contains(t, first.Next, "page=2")
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestWithCursorFunc(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "" {
			w.Header().Set("X-Next-Cursor", "abc")
			fmt.Fprint(w, `[{"id":1}]`)
			return
		}
		fmt.Fprint(w, `[{"id":2}]`)
	}))
	defer server.Close()

	headerCursor := func(resp *Response) string {
		if c := resp.Header.Get("X-Next-Cursor"); c != "" {
			return server.URL + "/items?cursor=" + c
		}
		return ""
	}
	client := New(server.Client(), WithCursorFunc(headerCursor))

	items, err := client.FetchAll(t.Context(), server.URL+"/items")

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, decodeInts(t, items))
}

func TestGet(t *testing.T) {
	t.Run("returns raw body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"name":"hello"}`)
		}))
		defer server.Close()

		resp, err := New(server.Client()).Get(t.Context(), server.URL)

		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"name":"hello"}`, string(resp.Body))
	})

	t.Run("404 surfaces status", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		defer server.Close()

		_, err := New(server.Client()).Get(t.Context(), server.URL)

		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestDownload(t *testing.T) {
	t.Run("writes binary body and creates directories", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/octet-stream", r.Header.Get("Accept"))
			w.Write([]byte{0x00, 0x01, 0x02})
		}))
		defer server.Close()
		dest := filepath.Join(t.TempDir(), "repo", "releases", "tool.tar.gz")

		require.NoError(t, New(server.Client()).Download(t.Context(), server.URL, dest))

		data, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x00, 0x01, 0x02}, data)
	})

	t.Run("failed status leaves no file", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()
		dest := filepath.Join(t.TempDir(), "asset.bin")

		err := New(server.Client()).Download(t.Context(), server.URL, dest)

		assert.Equal(t, http.StatusForbidden, apperrors.HTTPStatus(err))
		assert.NoFileExists(t, dest)
	})
}

type countingLimiter struct {
	waits   int32
	updates int32
}

func (l *countingLimiter) Wait(context.Context) error {
	atomic.AddInt32(&l.waits, 1)
	return nil
}

func (l *countingLimiter) UpdateFromResponse(*http.Response) {
	atomic.AddInt32(&l.updates, 1)
}

func TestNewHTTPClient(t *testing.T) {
	t.Run("attaches bearer token and user agent", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
			assert.Equal(t, "backup-test/1.0", r.Header.Get("User-Agent"))
			fmt.Fprint(w, `[]`)
		}))
		defer server.Close()
		limiter := &countingLimiter{}

		httpClient, err := NewHTTPClient(t.Context(), TransportConfig{
			Token:     "s3cret",
			UserAgent: "backup-test/1.0",
			APIURL:    server.URL,
			Limiter:   limiter,
		})
		require.NoError(t, err)

		_, err = New(httpClient).FetchAll(t.Context(), server.URL)
		require.NoError(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&limiter.waits))
		assert.Equal(t, int32(1), atomic.LoadInt32(&limiter.updates))
	})

	t.Run("credential is not sent to other hosts", func(t *testing.T) {
		cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.Header.Get("Authorization"))
			assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
			w.Write([]byte("binary"))
		}))
		defer cdn.Close()

		httpClient, err := NewHTTPClient(t.Context(), TransportConfig{
			Token:  "s3cret",
			APIURL: "https://api.github.com",
		})
		require.NoError(t, err)

		dest := filepath.Join(t.TempDir(), "asset")
		require.NoError(t, New(httpClient).Download(t.Context(), cdn.URL, dest))
	})
}

func TestParseNextLink(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
	}{
		{"empty", "", ""},
		{"next and last", `<https://api.github.com/x?page=2>; rel="next", <https://api.github.com/x?page=5>; rel="last"`, "https://api.github.com/x?page=2"},
		{"only prev", `<https://api.github.com/x?page=1>; rel="prev"`, ""},
		{"next after prev", `<https://a/x?page=1>; rel="prev", <https://a/x?page=3>; rel="next"`, "https://a/x?page=3"},
		{"garbage", `not a link header`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseNextLink(tc.header))
		})
	}
}
