package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	err error
}

func (f fakeChecker) Ping(context.Context) error { return f.err }

func TestLiveness_AlwaysSucceeds(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewHandler(fakeChecker{err: errors.New("store is down")})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health/live", nil)

	handler.Liveness(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alive")
	assert.Contains(t, w.Body.String(), "timestamp")
}

func TestReadiness_NilStore(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewHandler(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health/ready", nil)

	handler.Readiness(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ready")
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestReadiness_StoreHealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewHandler(fakeChecker{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health/ready", nil)

	handler.Readiness(c)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "status")
	assert.Contains(t, body, "checks")
	assert.Contains(t, body, "timestamp")
	assert.Contains(t, body, "store")
	assert.Contains(t, body, "healthy")
}

func TestReadiness_StoreUnhealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewHandler(fakeChecker{err: errors.New("ping timeout")})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health/ready", nil)

	handler.Readiness(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "unavailable")
	assert.Contains(t, body, "unhealthy")
}

func TestGRPCHealthServer_Check(t *testing.T) {
	srv := NewGRPCHealthServer(fakeChecker{})
	resp, err := srv.Check(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), int32(resp.Status)) // SERVING
}

func TestGRPCHealthServer_Check_StoreDown(t *testing.T) {
	srv := NewGRPCHealthServer(fakeChecker{err: errors.New("down")})
	resp, err := srv.Check(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), int32(resp.Status)) // NOT_SERVING
}

func TestGRPCHealthServer_Check_NilStore(t *testing.T) {
	srv := NewGRPCHealthServer(nil)
	resp, err := srv.Check(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), int32(resp.Status)) // SERVING
}
