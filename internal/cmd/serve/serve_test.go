package serve

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tessellated-ai/temporal-memory-service/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestFlagsCoverTemporalTuning(t *testing.T) {
	cfg := config.DefaultConfig()
	var secs int
	names := map[string]bool{}
	for _, f := range flags(&cfg, &secs) {
		for _, n := range f.Names() {
			names[n] = true
		}
	}
	for _, want := range []string{
		"retrieval-weight-relevance",
		"retrieval-weight-temporal",
		"min-importance",
		"max-importance",
		"relevance-normalization-scale",
		"recency-halving-rate",
		"recency-weight",
		"frequency-weight",
		"frequency-scale",
	} {
		require.True(t, names[want], "missing flag %s", want)
	}
}

func TestMaxBodySizeMiddleware_EnforcesLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(4))
	router.POST("/v1/retrieve", readBodyLengthHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", strings.NewReader(`{"query":"a long query body"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMaxBodySizeMiddleware_PassesSmallBodies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(1024))
	router.POST("/v1/retrieve", readBodyLengthHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", strings.NewReader(`{"query":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "14", rec.Body.String())
}

func readBodyLengthHandler(c *gin.Context) {
	n, err := io.Copy(io.Discard, c.Request.Body)
	if err != nil {
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}
	c.String(http.StatusOK, "%d", n)
}
