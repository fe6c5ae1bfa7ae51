package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wirebus/pkg/peripherals"
	"wirebus/pkg/store"
)

const sensorScript = `IN 1
ADDI 2
OUT 2
PUSHI 0
RETURN`

func newTestServer(t *testing.T, withStore bool) *Server {
	t.Helper()
	var st *store.Store
	if withStore {
		var err error
		st, err = store.Open(filepath.Join(t.TempDir(), "api.db"))
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
	}
	s, err := NewServer(ServerConfig{
		Logger:   zap.NewNop(),
		MaxSteps: 1000,
		Ports: []peripherals.Config{
			{Number: 1, Kind: peripherals.InputType, Initial: 40},
			{Number: 2, Kind: peripherals.ConsoleType},
		},
	}, st)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Body.String(), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestCompile(t *testing.T) {
	s := newTestServer(t, false)
	rec, out := do(t, s, http.MethodPost, "/compile", map[string]any{
		"source": "PUSHI 5\nPUSHI 3\nADD\nRETURN",
		"width":  8,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "0601050103060e", out["hex"])
	assert.Equal(t, []any{1.0, 5.0, 1.0, 3.0, 6.0, 14.0}, out["words"])
	assert.Contains(t, out["listing"], "PUSHI")
}

func TestCompileError(t *testing.T) {
	s := newTestServer(t, false)
	rec, out := do(t, s, http.MethodPost, "/compile", map[string]any{"source": "PUSHI 1\nFROB"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 2.0, out["line"])
	assert.Contains(t, out["error"], "FROB")
}

func TestRunSource(t *testing.T) {
	s := newTestServer(t, false)
	rec, out := do(t, s, http.MethodPost, "/run", map[string]any{"source": sensorScript})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 0.0, out["result"])
	assert.NotEmpty(t, out["run_id"])
	assert.Equal(t, "port=2 value=42\n", out["console"])
	assert.Len(t, out["events"], 2)
}

func TestRunHexWithParams(t *testing.T) {
	s := newTestServer(t, false)
	// SUB; RETURN at width 8
	rec, out := do(t, s, http.MethodPost, "/run", map[string]any{"hex": "02080e", "params": []uint64{3, 10}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 7.0, out["result"])
	assert.Equal(t, 2.0, out["steps"])
}

func TestRunFault(t *testing.T) {
	s := newTestServer(t, false)
	rec, out := do(t, s, http.MethodPost, "/run", map[string]any{"source": "ADD"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "stack underflow", out["kind"])
	assert.Equal(t, 0.0, out["ip"])

	rec, out = do(t, s, http.MethodPost, "/run", map[string]any{"source": ":l\nJMP l"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "step limit", out["kind"])
}

func TestRunBadRequest(t *testing.T) {
	s := newTestServer(t, false)
	rec, _ := do(t, s, http.MethodPost, "/run", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/run", map[string]any{"hex": "zz"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/run", map[string]any{"hex": "0201"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImagesRequireStore(t *testing.T) {
	s := newTestServer(t, false)
	rec, _ := do(t, s, http.MethodGet, "/images", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImageLifecycle(t *testing.T) {
	s := newTestServer(t, true)

	rec, _ := do(t, s, http.MethodGet, "/images", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec, out := do(t, s, http.MethodPut, "/images/sensor", map[string]any{"source": sensorScript, "width": 16})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "sensor", out["name"])
	assert.Equal(t, 16.0, out["width"])

	rec, out = do(t, s, http.MethodGet, "/images/sensor", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, out["listing"], "IN")

	rec, out = do(t, s, http.MethodPost, "/images/sensor/run", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	events := out["events"].([]any)
	require.Len(t, events, 2)
	first := events[0].(map[string]any)
	assert.Equal(t, "in", first["direction"])
	assert.Equal(t, 40.0, first["value"])
	assert.Equal(t, out["run_id"], first["run_id"])

	rec, _ = do(t, s, http.MethodGet, "/images", nil)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	rec, _ = do(t, s, http.MethodDelete, "/images/sensor", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/images/sensor", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = do(t, s, http.MethodPost, "/images/sensor/run", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutImageErrors(t *testing.T) {
	s := newTestServer(t, true)
	rec, out := do(t, s, http.MethodPut, "/images/bad", map[string]any{"source": "LET x 300", "width": 8})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1.0, out["line"])

	rec, _ = do(t, s, http.MethodPut, "/images/.hidden", map[string]any{"source": "RETURN"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
