package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/characterhub/api/internal/config"
	"github.com/characterhub/api/internal/model"
)

// ImageGenerator is the image-generation collaborator. Implementations return
// either a hosted URL or an inline encoded image plus generation metadata.
type ImageGenerator interface {
	GenerateCharacterImage(ctx context.Context, req *GenerateImageRequest) (*GenerateImageResult, error)
	IsConfigured() bool
}

// GenerateImageRequest describes the character, pose and occupation sent to
// the image backend.
type GenerateImageRequest struct {
	Character  ImageCharacter `json:"character"`
	PoseName   string         `json:"pose_name,omitempty"`
	Quality    string         `json:"quality"`
	Seed       *int64         `json:"seed"`
	UseHighres bool           `json:"use_highres"`
	Enhance    bool           `json:"enhance"`
}

// ImageCharacter flattens the fields the backend's character model expects.
type ImageCharacter struct {
	Name        string `json:"name"`
	Age         int    `json:"age"`
	Gender      string `json:"gender"`
	Description string `json:"description"`
	Ethnicity   string `json:"ethnicity,omitempty"`
	EyeColor    string `json:"eyeColor,omitempty"`
	HairStyle   string `json:"hairStyle,omitempty"`
	Pose        string `json:"pose,omitempty"`
	Occupation  string `json:"occupation,omitempty"`
}

// GenerateImageResult is the backend's response.
type GenerateImageResult struct {
	ImageURL       string  `json:"image_url"`
	ImageBase64    string  `json:"image_base64,omitempty"`
	PromptUsed     string  `json:"prompt_used"`
	Pose           string  `json:"pose"`
	PoseCategory   string  `json:"pose_category"`
	Seed           int64   `json:"seed"`
	Resolution     string  `json:"resolution"`
	GenerationTime float64 `json:"generation_time"`
}

// ImageClient calls the character image-generation backend.
type ImageClient struct {
	httpClient *http.Client
	baseURL    string
	quality    string
	log        zerolog.Logger
}

func NewImageClient(cfg *config.ImageAPIConfig, log zerolog.Logger) *ImageClient {
	return &ImageClient{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		baseURL:    cfg.BaseURL,
		quality:    cfg.Quality,
		log:        log.With().Str("client", "image-api").Logger(),
	}
}

// IsConfigured reports whether a backend URL is set. An unconfigured client
// disables imagery rather than failing jobs.
func (c *ImageClient) IsConfigured() bool {
	return c.baseURL != ""
}

// GenerateCharacterImage requests one image for the described character.
func (c *ImageClient) GenerateCharacterImage(ctx context.Context, req *GenerateImageRequest) (*GenerateImageResult, error) {
	if req.Quality == "" {
		req.Quality = mapQuality(c.quality)
	}

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.log.Info().Str("character", req.Character.Name).Str("pose", req.PoseName).Msg("requesting image generation")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("image generation request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result GenerateImageResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if result.ImageURL == "" && result.ImageBase64 == "" {
		return nil, fmt.Errorf("image generation returned no image")
	}
	return &result, nil
}

// BuildImageRequest assembles the request from the character record and its
// profile.
func BuildImageRequest(ch *model.Character, profile *model.CharacterProfile) *GenerateImageRequest {
	req := &GenerateImageRequest{
		Character: ImageCharacter{
			Name:        ch.Name,
			Age:         ch.Age,
			Gender:      ch.Gender,
			Description: ch.Description,
		},
		UseHighres: true,
		Enhance:    true,
	}
	if req.Character.Description == "" {
		req.Character.Description = fmt.Sprintf("A %d year old %s", ch.Age, ch.Gender)
	}
	if profile == nil {
		return req
	}
	if profile.Physical != nil {
		req.Character.Ethnicity = profile.Physical.Ethnicity
		req.Character.EyeColor = profile.Physical.EyeColor
		req.Character.HairStyle = profile.Physical.HairStyle
	}
	if profile.Personality != nil {
		req.Character.Pose = profile.Personality.Pose
		req.Character.Occupation = profile.Personality.Occupation
		req.PoseName = profile.Personality.Pose
	}
	return req
}

func mapQuality(quality string) string {
	switch quality {
	case "standard", "hd", "ultra_hd", "extreme":
		return quality
	case "hq", "":
		return "ultra_hd"
	default:
		return "ultra_hd"
	}
}
