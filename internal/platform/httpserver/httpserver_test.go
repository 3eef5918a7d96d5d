package httpserver

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"warden/internal/platform/config"
)

func TestWriteTimeoutTrailsRequestTimeout(t *testing.T) {
	srv := New(config.Server{Addr: ":0", RequestTimeout: 90 * time.Second}, http.NotFoundHandler())
	assert.Equal(t, ":0", srv.Addr)
	assert.Equal(t, 95*time.Second, srv.WriteTimeout)
	assert.Equal(t, 5*time.Second, srv.ReadHeaderTimeout)
}

func TestNoRequestTimeoutLeavesWritesUnbounded(t *testing.T) {
	srv := New(config.Server{Addr: ":0"}, http.NotFoundHandler())
	assert.Zero(t, srv.WriteTimeout)
}
