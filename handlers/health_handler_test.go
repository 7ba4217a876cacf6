package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/transcriber-gateway/repositories/postgres"
	"go.uber.org/zap"
)

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var response HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return response
}

const storeProbe = "SELECT 1 FROM account_records"

// storeCheck wraps a mocked pool in the account store's own health check
func storeCheck(db *sql.DB) CheckFunc {
	return (&postgres.DB{DB: db}).HealthCheck
}

func TestHandleHealth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("always returns ok", func(t *testing.T) {
		handler := NewHealthHandler(nil, logger)

		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		w := httptest.NewRecorder()

		handler.HandleHealth(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		response := decodeHealth(t, w)
		assert.Equal(t, "ok", response.Status)
		assert.NotEmpty(t, response.Timestamp)
	})
}

func TestHandleReadiness(t *testing.T) {
	logger := zap.NewNop()

	t.Run("ready when database is available", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery(storeProbe).WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		handler := NewHealthHandler(storeCheck(db), logger)

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		w := httptest.NewRecorder()

		handler.HandleReadiness(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		response := decodeHealth(t, w)
		assert.Equal(t, "ready", response.Status)
		assert.Equal(t, "healthy", response.Checks["database"])

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not ready when database ping fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing().WillReturnError(sql.ErrConnDone)

		handler := NewHealthHandler(storeCheck(db), logger)

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		w := httptest.NewRecorder()

		handler.HandleReadiness(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		response := decodeHealth(t, w)
		assert.Equal(t, "not_ready", response.Status)
		assert.Equal(t, "unhealthy", response.Checks["database"])

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not ready when database query fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery(storeProbe).WillReturnError(sql.ErrConnDone)

		handler := NewHealthHandler(storeCheck(db), logger)

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		w := httptest.NewRecorder()

		handler.HandleReadiness(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "unhealthy", decodeHealth(t, w).Checks["database"])

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not ready without database", func(t *testing.T) {
		handler := NewHealthHandler(nil, logger)

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		w := httptest.NewRecorder()

		handler.HandleReadiness(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		response := decodeHealth(t, w)
		assert.Equal(t, "not_ready", response.Status)
		assert.Equal(t, "not_initialized", response.Checks["database"])
	})

	t.Run("ready with an empty account table", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery(storeProbe).WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

		handler := NewHealthHandler(storeCheck(db), logger)

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		w := httptest.NewRecorder()

		handler.HandleReadiness(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "healthy", decodeHealth(t, w).Checks["database"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("extra checks are reported", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery(storeProbe).WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		handler := NewHealthHandler(storeCheck(db), logger).
			WithCheck("identity_cache", func(context.Context) error { return errors.New("redis down") })

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		w := httptest.NewRecorder()

		handler.HandleReadiness(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		response := decodeHealth(t, w)
		assert.Equal(t, "healthy", response.Checks["database"])
		assert.Equal(t, "unhealthy", response.Checks["identity_cache"])
	})
}
