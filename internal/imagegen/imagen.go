package imagegen

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/54b3r/ragcore-go/internal/errs"
)

// DefaultImagenModel is used when ImagenConfig.Model is empty.
const DefaultImagenModel = "imagen-3.0-generate-002"

// imagenAspectRatios are the ratios Imagen accepts. Other valid ratios are
// generated square.
var imagenAspectRatios = map[string]bool{
	"1:1":  true,
	"16:9": true,
	"9:16": true,
	"4:3":  true,
	"3:4":  true,
}

// ImagenConfig configures an ImagenGenerator.
type ImagenConfig struct {
	// Project is the Google Cloud project for Vertex AI.
	Project string
	// Location is the Vertex AI region (default: us-central1).
	Location string
	// APIKey selects the Gemini API backend instead of Vertex AI when set.
	APIKey string
	// Model is the Imagen model id.
	Model string
}

// ImagenGenerator renders images with Google Imagen through the genai SDK.
type ImagenGenerator struct {
	client *genai.Client
	model  string
}

// NewImagenGenerator builds a genai client for Vertex AI (project/location)
// or the Gemini API (API key).
func NewImagenGenerator(ctx context.Context, cfg ImagenConfig) (*ImagenGenerator, error) {
	cc := &genai.ClientConfig{}
	switch {
	case cfg.APIKey != "":
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	case cfg.Project != "":
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		if cc.Location == "" {
			cc.Location = "us-central1"
		}
		cc.Backend = genai.BackendVertexAI
	default:
		return nil, fmt.Errorf("imagegen: GOOGLE_CLOUD_PROJECT or IMAGE_API_KEY is required")
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("imagegen: failed to create genai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultImagenModel
	}
	return &ImagenGenerator{client: client, model: model}, nil
}

// Generate renders one image for prompt.
func (g *ImagenGenerator) Generate(ctx context.Context, prompt, aspectRatio string) (Image, error) {
	if !imagenAspectRatios[aspectRatio] {
		aspectRatio = DefaultAspectRatio
	}
	resp, err := g.client.Models.GenerateImages(ctx, g.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages:    1,
		AspectRatio:       aspectRatio,
		SafetyFilterLevel: genai.SafetyFilterLevelBlockMediumAndAbove,
		PersonGeneration:  genai.PersonGenerationAllowAdult,
		IncludeRAIReason:  true,
	})
	if err != nil {
		return Image{}, errs.Wrap(err, errs.CodeGenerationFailure, "imagegen: generate images")
	}
	if len(resp.GeneratedImages) == 0 {
		return Image{}, errs.New(errs.CodeGenerationFailure, "imagegen: no images in response")
	}
	gi := resp.GeneratedImages[0]
	if gi.Image == nil || len(gi.Image.ImageBytes) == 0 {
		reason := gi.RAIFilteredReason
		if reason == "" {
			reason = "no image data in response"
		}
		return Image{}, errs.Errorf(errs.CodeGenerationFailure, "imagegen: %s", reason)
	}
	return Image{Bytes: gi.Image.ImageBytes, Format: formatFromMIME(gi.Image.MIMEType)}, nil
}

func formatFromMIME(mime string) string {
	switch {
	case strings.HasSuffix(mime, "jpeg"), strings.HasSuffix(mime, "jpg"):
		return "jpg"
	case strings.HasSuffix(mime, "webp"):
		return "webp"
	default:
		return "png"
	}
}
