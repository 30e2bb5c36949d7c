package connpool

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoDoHServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", dnsMessageContentType)
		switch r.Method {
		case http.MethodGet:
			dns := r.URL.Query().Get("dns")
			w.Write([]byte("got-get:" + dns))
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			w.Write(append([]byte("got-post:"), body...))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDoHClientGET(t *testing.T) {
	srv := echoDoHServer(t)
	c := NewDoHClient(srv.URL, DoHGet)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := c.Query(ctx, []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	assert.Contains(t, string(resp), "got-get:")
}

func TestDoHClientPOST(t *testing.T) {
	srv := echoDoHServer(t)
	c := NewDoHClient(srv.URL, DoHPost)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := c.Query(ctx, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, "got-post:payload", string(resp))
}

func TestDoHClientRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := NewDoHClient(srv.URL, DoHGet)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.Query(ctx, []byte{0x01})
	assert.Error(t, err)
}
