package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/cin-capture/internal/capture"
	"github.com/kozaktomas/cin-capture/internal/cinapi"
	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/upload"
)

func TestRespondJSON(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondJSON(recorder, http.StatusCreated, map[string]any{"database_id": 7, "message": "ok"})

	if recorder.Code != http.StatusCreated {
		t.Errorf("expected status %d, got %d", http.StatusCreated, recorder.Code)
	}
	if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
	}

	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["database_id"] != float64(7) { // JSON numbers are float64
		t.Errorf("expected database_id 7, got %v", result["database_id"])
	}
}

func TestRespondJSON_NilData(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondJSON(recorder, http.StatusOK, nil)

	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body for nil data, got '%s'", recorder.Body.String())
	}
}

func TestRespondError(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondError(recorder, http.StatusBadRequest, "something went wrong")

	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["error"] != "something went wrong" {
		t.Errorf("expected error 'something went wrong', got '%s'", result["error"])
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"too large", &upload.ValidationError{Reason: upload.ErrTooLarge}, http.StatusRequestEntityTooLarge},
		{"invalid type", &upload.ValidationError{Reason: upload.ErrInvalidType}, http.StatusUnsupportedMediaType},
		{"empty", &upload.ValidationError{Reason: upload.ErrEmpty}, http.StatusBadRequest},
		{"nothing to save", capture.ErrNothingToSave, http.StatusBadRequest},
		{"busy", capture.ErrBusy, http.StatusConflict},
		{"wrong state", fmt.Errorf("skip verso: %w", capture.ErrWrongState), http.StatusConflict},
		{"discarded", capture.ErrDiscarded, http.StatusConflict},
		{"not found", record.NewCollaboratorError(record.OpGet, &detailError{status: http.StatusNotFound}), http.StatusNotFound},
		{"collaborator", record.NewCollaboratorError(record.OpSave, errUnreachable), http.StatusBadGateway},
		{"other", context.Canceled, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorStatus(tt.err); got != tt.want {
				t.Errorf("errorStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRespondDomainError_UsesFallback(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondDomainError(recorder, record.NewCollaboratorError(record.OpList, errUnreachable))

	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["error"] != "Failed to load documents" {
		t.Errorf("expected fallback message, got '%s'", result["error"])
	}
}

func TestFormUpload_MissingFile(t *testing.T) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("other", "value")
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/capture/recto", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	recorder := httptest.NewRecorder()

	if _, _, ok := formUpload(recorder, req); ok {
		t.Fatal("expected formUpload to fail without a file part")
	}
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", recorder.Code)
	}
}

func TestFormUpload_NotMultipart(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/capture/recto", bytes.NewBufferString("{}"))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()

	if _, _, ok := formUpload(recorder, req); ok {
		t.Fatal("expected formUpload to fail for a JSON body")
	}
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", recorder.Code)
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("recto\r\n.png"); got != "recto.png" {
		t.Errorf("sanitizeForLog() = %q", got)
	}
}

func TestHealthCheck_ReturnsStatusOk(t *testing.T) {
	recorder := httptest.NewRecorder()
	HealthCheck(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if recorder.Code != http.StatusOK || result["status"] != "ok" {
		t.Errorf("unexpected health response %d %v", recorder.Code, result)
	}
}

type fakeHealth struct {
	health *cinapi.Health
	err    error
}

func (f fakeHealth) Health(context.Context) (*cinapi.Health, error) {
	return f.health, f.err
}

func TestUpstreamHealth(t *testing.T) {
	tests := []struct {
		name       string
		checker    fakeHealth
		wantStatus int
		wantBody   string
	}{
		{
			name:       "healthy",
			checker:    fakeHealth{health: &cinapi.Health{Status: "healthy", TotalDocuments: 12}},
			wantStatus: http.StatusOK,
			wantBody:   "healthy",
		},
		{
			name:       "unreachable",
			checker:    fakeHealth{err: errUnreachable},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "Service unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			UpstreamHealth(tt.checker)(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health/upstream", nil))

			if recorder.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, recorder.Code)
			}
			if !bytes.Contains(recorder.Body.Bytes(), []byte(tt.wantBody)) {
				t.Errorf("expected body to contain %q, got %s", tt.wantBody, recorder.Body.String())
			}
		})
	}
}
