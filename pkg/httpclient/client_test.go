package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSONSendsHeadersAndReadsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		w.Header().Set("Location", "/x/1")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	resp, err := c.PostJSON(context.Background(), srv.URL, map[string]string{"a": "b"}, map[string]string{"Authorization": "Bearer abc"})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, "/x/1", resp.Header.Get("Location"))

	var out struct{ OK bool }
	require.NoError(t, resp.DecodeJSON(&out))
	assert.True(t, out.OK)
}

func TestPostForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	resp, err := NewClient(time.Second).PostForm(context.Background(), srv.URL, url.Values{"grant_type": {"client_credentials"}}, nil)
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTimeoutIsDetected(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(50 * time.Millisecond)
	_, err := c.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestIsTimeout(t *testing.T) {
	assert.False(t, IsTimeout(nil))
	assert.False(t, IsTimeout(errors.New("connection refused")))
	assert.True(t, IsTimeout(context.DeadlineExceeded))
}
