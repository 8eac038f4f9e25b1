package testutil

import (
	"errors"
	"net/http"
	"testing"
)

func TestAssertStatusCodePasses(t *testing.T) {
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
}

func TestAssertNoErrorPasses(t *testing.T) {
	AssertNoError(t, nil)
}

func TestAssertErrorPasses(t *testing.T) {
	AssertError(t, errors.New("boom"))
}

func TestNewTestRequest(t *testing.T) {
	req := NewTestRequest(http.MethodGet, "/api/counts")
	if req.Method != http.MethodGet {
		t.Errorf("method = %s, want GET", req.Method)
	}
	if req.URL.Path != "/api/counts" {
		t.Errorf("path = %s, want /api/counts", req.URL.Path)
	}
}

func TestNewTestRecorder(t *testing.T) {
	rec := NewTestRecorder()
	if rec == nil {
		t.Fatal("recorder is nil")
	}
	rec.WriteHeader(http.StatusTeapot)
	AssertStatusCode(t, rec.Code, http.StatusTeapot)
}
