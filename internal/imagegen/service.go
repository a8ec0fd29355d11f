// Package imagegen turns text prompts into stored images, memoizing results
// by their request parameters so identical requests reuse one generation.
package imagegen

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/ragcore-go/internal/errs"
	"github.com/54b3r/ragcore-go/internal/generation"
	"github.com/54b3r/ragcore-go/internal/logging"
)

const (
	// CacheNamespace prefixes image cache keys.
	CacheNamespace = "img_cache"

	// DefaultAspectRatio is used when a request omits aspect_ratio.
	DefaultAspectRatio = "1:1"
)

// Image is raw image data from a Generator.
type Image struct {
	Bytes  []byte
	Format string
}

// Generator renders an image for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt, aspectRatio string) (Image, error)
}

// Storage persists image bytes and returns a URL clients can fetch.
type Storage interface {
	Save(ctx context.Context, img Image) (string, error)
}

// Request is an image generation request.
type Request struct {
	Prompt      string `json:"prompt"`
	Style       string `json:"style,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

// Response describes a generated or cached image.
type Response struct {
	Status    string    `json:"status"`
	FromCache bool      `json:"from_cache"`
	ImageURL  string    `json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
}

// cachedImage is the payload stored in the cache.
type cachedImage struct {
	ImageURL string `json:"image_url"`
}

// Service generates images through a cache gate.
type Service struct {
	gate      *generation.Gate[cachedImage]
	generator Generator
	storage   Storage
}

// NewService wires a generator and storage behind a gate on c.
func NewService(c generation.Cache, generator Generator, storage Storage, metrics *generation.Metrics) *Service {
	return &Service{
		gate:      generation.NewGate[cachedImage](CacheNamespace, c, metrics),
		generator: generator,
		storage:   storage,
	}
}

// ValidateAspectRatio reports whether s has the form "W:H" with positive
// integer sides.
func ValidateAspectRatio(s string) bool {
	w, h, ok := strings.Cut(s, ":")
	if !ok {
		return false
	}
	wi, err := strconv.Atoi(w)
	if err != nil || wi <= 0 {
		return false
	}
	hi, err := strconv.Atoi(h)
	if err != nil || hi <= 0 {
		return false
	}
	return true
}

// CacheParams returns the parameters an image request is memoized under.
// An empty style is encoded as null so it matches requests that omit it.
func CacheParams(req Request) map[string]any {
	var style any
	if req.Style != "" {
		style = req.Style
	}
	return map[string]any{
		"prompt":       req.Prompt,
		"style":        style,
		"aspect_ratio": req.AspectRatio,
	}
}

// Generate returns a cached image for identical parameters or renders,
// stores and caches a new one.
func (s *Service) Generate(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Response{}, errs.New(errs.CodeRequestInvalid, "imagegen: prompt is required")
	}
	if req.AspectRatio == "" {
		req.AspectRatio = DefaultAspectRatio
	}
	if !ValidateAspectRatio(req.AspectRatio) {
		return Response{}, errs.Errorf(errs.CodeRequestInvalid,
			"imagegen: invalid aspect ratio %q, use a format like '1:1' or '16:9'", req.AspectRatio)
	}

	res, err := s.gate.GetOrGenerate(ctx, CacheParams(req), func(ctx context.Context) (cachedImage, error) {
		prompt := req.Prompt
		if req.Style != "" {
			prompt += ", " + req.Style + " style"
		}
		img, err := s.generator.Generate(ctx, prompt, req.AspectRatio)
		if err != nil {
			return cachedImage{}, err
		}
		url, err := s.storage.Save(ctx, img)
		if err != nil {
			return cachedImage{}, errs.Wrap(err, errs.CodeGenerationFailure, "imagegen: store image")
		}
		return cachedImage{ImageURL: url}, nil
	})
	if err != nil {
		return Response{}, err
	}

	logging.FromContext(ctx).Info("imagegen: image ready",
		slog.Bool("from_cache", res.FromCache),
		slog.String("image_url", res.Value.ImageURL),
	)
	return Response{
		Status:    "success",
		FromCache: res.FromCache,
		ImageURL:  res.Value.ImageURL,
		CreatedAt: res.CreatedAt,
	}, nil
}
