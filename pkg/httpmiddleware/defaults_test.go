package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/nutrisync/pkg/logger"
)

func TestDefaultStackServesHeartbeat(t *testing.T) {
	r := chi.NewRouter()
	WithLogger(r, logger.NewLogger(logger.Config{Level: logger.ErrorLevel}))
	r.Get("/hello", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCorrelationIDOverridesClientHeader(t *testing.T) {
	var seen string
	r := chi.NewRouter()
	r.Use(CorrelationID())
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		seen = req.Header.Get(logger.CorrelationIDHeader)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/", nil)
	req.Header.Set(logger.CorrelationIDHeader, "spoofed")
	_, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	assert.NotEqual(t, "spoofed", seen)
	_, err = uuid.Parse(seen)
	assert.NoError(t, err, "correlation ID should be a generated UUID")
}

func TestRecoveryConvertsPanicTo500(t *testing.T) {
	r := chi.NewRouter()
	ApplyToRouter(r, DefaultConfig())
	r.Get("/boom", func(w http.ResponseWriter, req *http.Request) {
		panic("boom")
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/boom")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
