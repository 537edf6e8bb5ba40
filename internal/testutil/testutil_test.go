package testutil

import (
	"bytes"
	"image/jpeg"
	"net/http"
	"testing"
)

func TestJPEGFrame(t *testing.T) {
	data := JPEGFrame(t, 8, 4, 200)
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("JPEGFrame produced undecodable data: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 4 {
		t.Errorf("bounds = %v, want 8x4", b)
	}
}

func TestNewTestRequest(t *testing.T) {
	req := NewTestRequest(http.MethodGet, "/api/latest")
	if req.Method != http.MethodGet || req.URL.Path != "/api/latest" {
		t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertNoError(t, nil)
}
