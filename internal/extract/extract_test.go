package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchFileSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("file-bytes"))
	}))
	defer srv.Close()

	e := NewExtractor("xoxb-token")
	data, err := e.FetchFile(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchFile failed: %v", err)
	}
	if string(data) != "file-bytes" {
		t.Errorf("unexpected body: %q", data)
	}
	if gotAuth != "Bearer xoxb-token" {
		t.Errorf("expected bearer token header, got %q", gotAuth)
	}
}

func TestFetchFileOmitsEmptyToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	e := NewExtractor("")
	if _, err := e.FetchFile(context.Background(), srv.URL); err != nil {
		t.Fatalf("FetchFile failed: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("expected no Authorization header, got %q", gotAuth)
	}
}

func TestFetchFileRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	e := NewExtractor("token")
	if _, err := e.FetchFile(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestExtractPDFRejectsGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not a pdf"))
	}))
	defer srv.Close()

	e := NewExtractor("token")
	if _, err := e.ExtractPDF(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error parsing non-PDF content")
	}
}
