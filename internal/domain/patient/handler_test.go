package patient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestServer() (*echo.Echo, *spyStore) {
	store := newSpyStore()
	svc := NewService(store, &fakeIndex{})
	h := NewHandler(svc)

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(zerolog.Nop())
	h.RegisterRoutes(e)
	return e, store
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func envelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	out := map[string]json.RawMessage{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid response body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestCreatePatientEndpoint(t *testing.T) {
	e, _ := newTestServer()
	rec := do(e, http.MethodPost, "/patient",
		`{"name":"A","address":"B","conditions":[],"allergies":["peanuts"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var p Patient
	body := envelope(t, rec)
	if err := json.Unmarshal(body["data"], &p); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if p.ID == "" {
		t.Error("expected generated id in response")
	}
}

func TestCreatePatient_ValidationEnvelope(t *testing.T) {
	e, _ := newTestServer()
	rec := do(e, http.MethodPost, "/patient", `{"name":"A","address":"B","allergies":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var violations []FieldViolation
	body := envelope(t, rec)
	if err := json.Unmarshal(body["error"], &violations); err != nil {
		t.Fatalf("expected field-level detail, got %s", rec.Body.String())
	}
	if len(violations) != 1 || violations[0].Field != "allergies" {
		t.Errorf("unexpected violations: %v", violations)
	}
}

func TestGetPatient_NotFound(t *testing.T) {
	e, _ := newTestServer()
	rec := do(e, http.MethodGet, "/patient/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var msg string
	json.Unmarshal(envelope(t, rec)["error"], &msg)
	if msg != "Patient not found" {
		t.Errorf("unexpected error message %q", msg)
	}
}

func TestInvalidEndpoint(t *testing.T) {
	e, _ := newTestServer()
	rec := do(e, http.MethodGet, "/invalid-endpoint", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var msg string
	json.Unmarshal(envelope(t, rec)["error"], &msg)
	if msg != "Invalid API endpoint -> /invalid-endpoint" {
		t.Errorf("unexpected error message %q", msg)
	}
}

func TestInvalidMethod(t *testing.T) {
	e, _ := newTestServer()
	rec := do(e, http.MethodPatch, "/patient/some-id", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var msg string
	json.Unmarshal(envelope(t, rec)["error"], &msg)
	if msg != "Invalid request method" {
		t.Errorf("unexpected error message %q", msg)
	}
}

func TestDeleteReturnsConfirmation(t *testing.T) {
	e, store := newTestServer()
	svc := NewService(store, &fakeIndex{})
	p, _ := svc.Create(context.Background(), createPayload())

	rec := do(e, http.MethodDelete, "/patient/"+p.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "deleted successfully") {
		t.Errorf("expected confirmation message, got %s", rec.Body.String())
	}
}

func TestPatientLifecycle(t *testing.T) {
	e, _ := newTestServer()

	// Create
	rec := do(e, http.MethodPost, "/patient",
		`{"name":"A","address":"B","conditions":[],"allergies":["peanuts"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d", rec.Code)
	}
	var created Patient
	json.Unmarshal(envelope(t, rec)["data"], &created)
	if created.ID == "" {
		t.Fatal("create: missing id")
	}

	// Read back
	rec = do(e, http.MethodGet, "/patient/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	var fetched Patient
	json.Unmarshal(envelope(t, rec)["data"], &fetched)
	if fetched.ID != created.ID || fetched.Name != "A" || len(fetched.Allergies) != 1 {
		t.Errorf("get: record mismatch: %+v", fetched)
	}

	// Soft delete, then the record is gone from the read path
	if rec = do(e, http.MethodDelete, "/patient/"+created.ID, ""); rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}
	if rec = do(e, http.MethodGet, "/patient/"+created.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", rec.Code)
	}
}

func TestListEndpoint(t *testing.T) {
	e, _ := newTestServer()
	do(e, http.MethodPost, "/patient", `{"name":"A","address":"B","allergies":["peanuts"]}`)

	rec := do(e, http.MethodGet, "/patient", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var entries []ListEntry
	json.Unmarshal(envelope(t, rec)["data"], &entries)
	if len(entries) != 1 || entries[0].Name != "A" {
		t.Errorf("unexpected entries: %v", entries)
	}
}
