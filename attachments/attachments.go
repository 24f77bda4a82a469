// Package attachments turns image and file references from the command line
// or a caller into neutral content blocks.
package attachments

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aschepis/backscratcher/genllm/llm"
	"github.com/gabriel-vasile/mimetype"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxImageSize is the longest side, in pixels, a local image may
	// have before it is downscaled.
	DefaultMaxImageSize = 2048

	// DefaultJPEGQuality is used when re-encoding downscaled images.
	DefaultJPEGQuality = 85

	// DefaultImageType is assumed when an image's type cannot be detected.
	DefaultImageType = "image/jpeg"
)

var extensionTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
}

// Loader reads attachments from disk.
type Loader struct {
	// MaxImageSize bounds the longest side of local images. Zero disables
	// downscaling.
	MaxImageSize uint
	Quality      int

	logger zerolog.Logger
}

// NewLoader creates a loader with the default size limit.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		MaxImageSize: DefaultMaxImageSize,
		Quality:      DefaultJPEGQuality,
		logger:       logger.With().Str("component", "attachments").Logger(),
	}
}

// IsURL reports whether ref is a remote http(s) reference.
func IsURL(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Image resolves ref into an image block. URLs pass through untouched; local
// paths are read, typed and base64 encoded.
func (l *Loader) Image(ref string) (llm.ContentBlock, error) {
	if IsURL(ref) {
		return llm.ContentBlock{
			Type:  llm.ContentBlockTypeImage,
			Image: &llm.ImageSource{URL: ref, MediaType: TypeFromExtension(ref)},
		}, nil
	}

	data, err := os.ReadFile(ref)
	if err != nil {
		return llm.ContentBlock{}, fmt.Errorf("failed to read image %s: %w", ref, err)
	}

	mediaType := DetectImageType(ref, data)
	data, mediaType, err = l.downscale(ref, data, mediaType)
	if err != nil {
		return llm.ContentBlock{}, err
	}

	return llm.ContentBlock{
		Type: llm.ContentBlockTypeImage,
		Image: &llm.ImageSource{
			MediaType: mediaType,
			Data:      base64.StdEncoding.EncodeToString(data),
		},
	}, nil
}

// Images resolves every ref, failing on the first that cannot be loaded.
func (l *Loader) Images(refs []string) ([]llm.ContentBlock, error) {
	blocks := make([]llm.ContentBlock, 0, len(refs))
	for _, ref := range refs {
		block, err := l.Image(ref)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// File reads a text file into a file block. Binary files are rejected.
func (l *Loader) File(path string) (llm.ContentBlock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return llm.ContentBlock{}, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	mt := mimetype.Detect(data)
	if !isText(mt) {
		return llm.ContentBlock{}, fmt.Errorf("file %s is not text (detected %s)", path, mt.String())
	}

	return llm.ContentBlock{
		Type: llm.ContentBlockTypeFile,
		File: &llm.FileSource{
			Name:      filepath.Base(path),
			MediaType: mt.String(),
			Text:      string(data),
		},
	}, nil
}

// Files reads every path, failing on the first error.
func (l *Loader) Files(paths []string) ([]llm.ContentBlock, error) {
	blocks := make([]llm.ContentBlock, 0, len(paths))
	for _, path := range paths {
		block, err := l.File(path)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// DetectImageType sniffs data and falls back to the file extension, then to
// DefaultImageType.
func DetectImageType(name string, data []byte) string {
	if len(data) > 0 {
		mt := mimetype.Detect(data)
		if strings.HasPrefix(mt.String(), "image/") {
			return mt.String()
		}
	}
	return TypeFromExtension(name)
}

// TypeFromExtension maps a file name or URL to an image type by extension.
func TypeFromExtension(name string) string {
	if u, err := url.Parse(name); err == nil && u.Path != "" {
		name = u.Path
	}
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}
	return DefaultImageType
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// downscale shrinks images whose longest side exceeds MaxImageSize and
// re-encodes them as JPEG. Formats the standard decoders cannot read are
// returned unchanged.
func (l *Loader) downscale(name string, data []byte, mediaType string) ([]byte, string, error) {
	if l.MaxImageSize == 0 {
		return data, mediaType, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return data, mediaType, nil
	}
	if uint(cfg.Width) <= l.MaxImageSize && uint(cfg.Height) <= l.MaxImageSize {
		return data, mediaType, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image %s: %w", name, err)
	}
	resized := resize.Thumbnail(l.MaxImageSize, l.MaxImageSize, img, resize.Lanczos3)

	quality := l.Quality
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: quality}); err != nil {
		return nil, "", fmt.Errorf("failed to encode image %s: %w", name, err)
	}

	bounds := resized.Bounds()
	l.logger.Debug().
		Str("image", name).
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Int("new_width", bounds.Dx()).
		Int("new_height", bounds.Dy()).
		Msg("Downscaled image")

	return buf.Bytes(), "image/jpeg", nil
}
