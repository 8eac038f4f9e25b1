package classify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/apiary-data/forager.report/internal/httputil"
)

func TestHTTPClassifierPostsRequest(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"label":"pollen","confidence":0.92}`)

	c := NewHTTPClassifier("http://classifier.local/classify", mock)
	pred, err := c.Classify(context.Background(), Request{
		TrackID:   9,
		UnixNanos: 123,
		X:         40.5,
		Y:         77.0,
		CropRef:   "crops/0009.png",
	})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if pred.Label != LabelPollen || pred.Confidence != 0.92 {
		t.Errorf("prediction = %+v", pred)
	}

	req := mock.GetRequest(0)
	if req == nil {
		t.Fatal("no request recorded")
	}
	if req.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.Method)
	}
	if ct := req.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatalf("failed to read request body: %v", err)
	}
	var sent Request
	if err := json.Unmarshal(body, &sent); err != nil {
		t.Fatalf("request body is not valid JSON: %v", err)
	}
	if sent.TrackID != 9 || sent.CropRef != "crops/0009.png" {
		t.Errorf("sent request = %+v", sent)
	}
}

func TestHTTPClassifierErrorStatus(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusServiceUnavailable, "overloaded")

	c := NewHTTPClassifier("http://classifier.local/classify", mock)
	if _, err := c.Classify(context.Background(), Request{TrackID: 1}); err == nil {
		t.Error("expected error for non-200 status")
	}
}

func TestHTTPClassifierMalformedResponse(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, "not json")

	c := NewHTTPClassifier("http://classifier.local/classify", mock)
	if _, err := c.Classify(context.Background(), Request{TrackID: 1}); err == nil {
		t.Error("expected error for malformed response body")
	}
}

func TestHTTPClassifierAgainstServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(Prediction{Label: LabelWasp, Confidence: 0.66})
	}))
	defer server.Close()

	c := NewHTTPClassifier(server.URL, nil)
	pred, err := c.Classify(context.Background(), Request{TrackID: 3, CropRef: "crops/0003.png"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if pred.Label != LabelWasp || pred.Confidence != 0.66 {
		t.Errorf("prediction = %+v", pred)
	}
}
