package attachments

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aschepis/backscratcher/genllm/llm"
	"github.com/rs/zerolog"
)

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoader_ImageURLPassesThrough(t *testing.T) {
	l := NewLoader(zerolog.Nop())
	block, err := l.Image("https://example.com/cat.png?size=large")
	if err != nil {
		t.Fatalf("Image() error = %v", err)
	}
	if block.Type != llm.ContentBlockTypeImage || block.Image == nil {
		t.Fatalf("Image() = %+v", block)
	}
	if !block.Image.IsURL() || block.Image.URL != "https://example.com/cat.png?size=large" {
		t.Errorf("URL not preserved: %+v", block.Image)
	}
	if block.Image.MediaType != "image/png" {
		t.Errorf("MediaType = %q, want image/png", block.Image.MediaType)
	}
}

func TestLoader_LocalImage(t *testing.T) {
	path := writePNG(t, t.TempDir(), "small.png", 10, 10)
	l := NewLoader(zerolog.Nop())

	block, err := l.Image(path)
	if err != nil {
		t.Fatalf("Image() error = %v", err)
	}
	if block.Image.IsURL() {
		t.Error("local image should be inline")
	}
	if block.Image.MediaType != "image/png" {
		t.Errorf("MediaType = %q, want image/png", block.Image.MediaType)
	}
	raw, err := base64.StdEncoding.DecodeString(block.Image.Data)
	if err != nil {
		t.Fatalf("Data is not base64: %v", err)
	}
	want, _ := os.ReadFile(path)
	if !bytes.Equal(raw, want) {
		t.Error("small image should be sent unchanged")
	}
	if !strings.HasPrefix(block.Image.DataURL(), "data:image/png;base64,") {
		t.Errorf("DataURL() = %q", block.Image.DataURL()[:30])
	}
}

func TestLoader_DownscalesLargeImage(t *testing.T) {
	path := writePNG(t, t.TempDir(), "wide.png", 400, 100)
	l := NewLoader(zerolog.Nop())
	l.MaxImageSize = 200

	block, err := l.Image(path)
	if err != nil {
		t.Fatalf("Image() error = %v", err)
	}
	if block.Image.MediaType != "image/jpeg" {
		t.Errorf("MediaType = %q, want image/jpeg", block.Image.MediaType)
	}
	raw, err := base64.StdEncoding.DecodeString(block.Image.Data)
	if err != nil {
		t.Fatal(err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("DecodeConfig() error = %v", err)
	}
	if format != "jpeg" {
		t.Errorf("format = %q, want jpeg", format)
	}
	if cfg.Width != 200 || cfg.Height != 50 {
		t.Errorf("resized to %dx%d, want 200x50", cfg.Width, cfg.Height)
	}
}

func TestLoader_MissingImage(t *testing.T) {
	if _, err := NewLoader(zerolog.Nop()).Image(filepath.Join(t.TempDir(), "nope.png")); err == nil {
		t.Error("expected error for missing image")
	}
}

func TestLoader_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("line one\nline two"), 0644); err != nil {
		t.Fatal(err)
	}

	block, err := NewLoader(zerolog.Nop()).File(path)
	if err != nil {
		t.Fatalf("File() error = %v", err)
	}
	if block.Type != llm.ContentBlockTypeFile || block.File == nil {
		t.Fatalf("File() = %+v", block)
	}
	if block.File.Name != "notes.txt" {
		t.Errorf("Name = %q", block.File.Name)
	}
	want := "<file name=\"notes.txt\">\nline one\nline two\n</file>"
	if got := block.File.Render(); got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestLoader_FileRejectsBinary(t *testing.T) {
	path := writePNG(t, t.TempDir(), "pic.txt", 4, 4)
	if _, err := NewLoader(zerolog.Nop()).File(path); err == nil {
		t.Error("expected binary file to be rejected")
	}
}

func TestTypeFromExtension(t *testing.T) {
	tests := map[string]string{
		"a.PNG":                        "image/png",
		"b.jpeg":                       "image/jpeg",
		"c.webp":                       "image/webp",
		"d.tif":                        "image/tiff",
		"e.unknown":                    DefaultImageType,
		"noext":                        DefaultImageType,
		"https://x.test/p/img.gif?v=2": "image/gif",
	}
	for in, want := range tests {
		if got := TypeFromExtension(in); got != want {
			t.Errorf("TypeFromExtension(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsURL(t *testing.T) {
	for ref, want := range map[string]bool{
		"https://example.com/a.png": true,
		"http://example.com/a.png":  true,
		"/tmp/a.png":                false,
		"a.png":                     false,
		"ftp://example.com/a.png":   false,
	} {
		if got := IsURL(ref); got != want {
			t.Errorf("IsURL(%q) = %v, want %v", ref, got, want)
		}
	}
}
