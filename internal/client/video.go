package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/characterhub/api/internal/config"
)

// VideoGenerator is the video-generation collaborator. The protocol is
// asynchronous on the provider side: upload the source image, submit a task,
// poll for the result, then download the output.
type VideoGenerator interface {
	UploadImage(ctx context.Context, imageURL string) (string, error)
	SubmitTask(ctx context.Context, imageURL, motionPrompt string, opts VideoOptions) (string, error)
	PollResult(ctx context.Context, requestID string, onProgress func(fraction float64)) (string, error)
	IsConfigured() bool
}

// VideoOptions tunes a generation task.
type VideoOptions struct {
	DurationSec int
	Resolution  string
}

// VideoClient talks to a Wavespeed-style image-to-video API.
type VideoClient struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	pollMaxWait  time.Duration
	log          zerolog.Logger
}

func NewVideoClient(cfg *config.WavespeedConfig, log zerolog.Logger) *VideoClient {
	return &VideoClient{
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		pollInterval: 5 * time.Second,
		pollMaxWait:  10 * time.Minute,
		log:          log.With().Str("client", "video-api").Logger(),
	}
}

func (c *VideoClient) IsConfigured() bool {
	return c.apiKey != ""
}

type wavespeedEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// UploadImage fetches the source image and uploads it to the provider,
// returning the provider-hosted URL used by SubmitTask.
func (c *VideoClient) UploadImage(ctx context.Context, imageURL string) (string, error) {
	imgReq, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create image fetch request: %w", err)
	}
	imgResp, err := c.httpClient.Do(imgReq)
	if err != nil {
		return "", fmt.Errorf("failed to fetch source image: %w", err)
	}
	defer imgResp.Body.Close()
	if imgResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("source image fetch failed (status %d)", imgResp.StatusCode)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "source.png")
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, imgResp.Body); err != nil {
		return "", fmt.Errorf("failed to buffer source image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/media/upload/binary", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var data struct {
		DownloadURL string `json:"download_url"`
	}
	if err := c.do(req, &data); err != nil {
		return "", fmt.Errorf("image upload failed: %w", err)
	}
	if data.DownloadURL == "" {
		return "", fmt.Errorf("image upload returned no download url")
	}
	c.log.Info().Str("url", data.DownloadURL).Msg("source image uploaded")
	return data.DownloadURL, nil
}

// SubmitTask starts an image-to-video generation and returns the provider's
// request handle.
func (c *VideoClient) SubmitTask(ctx context.Context, imageURL, motionPrompt string, opts VideoOptions) (string, error) {
	if opts.DurationSec == 0 {
		opts.DurationSec = 5
	}
	if opts.Resolution == "" {
		opts.Resolution = "720p"
	}

	payload := map[string]interface{}{
		"image":      imageURL,
		"prompt":     motionPrompt,
		"duration":   opts.DurationSec,
		"resolution": opts.Resolution,
		"seed":       -1,
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal submit payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/image-to-video", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var data struct {
		RequestID string `json:"request_id"`
		ID        string `json:"id"`
	}
	if err := c.do(req, &data); err != nil {
		return "", fmt.Errorf("video task submission failed: %w", err)
	}
	requestID := data.RequestID
	if requestID == "" {
		requestID = data.ID
	}
	if requestID == "" {
		return "", fmt.Errorf("no request id in submit response")
	}
	c.log.Info().Str("request_id", requestID).Int("duration", opts.DurationSec).Msg("video task submitted")
	return requestID, nil
}

type videoResult struct {
	Status  string   `json:"status"`
	Outputs []string `json:"outputs"`
	Error   string   `json:"error"`
}

// PollResult polls until the task finishes and returns the output URL.
// onProgress, when non-nil, receives a 0..1 fraction of the poll budget used
// so the worker can map it onto job progress.
func (c *VideoClient) PollResult(ctx context.Context, requestID string, onProgress func(fraction float64)) (string, error) {
	deadline := time.Now().Add(c.pollMaxWait)
	start := time.Now()
	attempt := 0

	for time.Now().Before(deadline) {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/predictions/%s/result", c.baseURL, requestID), nil)
		if err != nil {
			return "", fmt.Errorf("failed to create poll request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		var result videoResult
		if err := c.do(req, &result); err != nil {
			return "", fmt.Errorf("video poll failed: %w", err)
		}

		c.log.Debug().Str("request_id", requestID).Int("attempt", attempt).Str("status", result.Status).Msg("video poll")

		switch result.Status {
		case "completed", "succeeded":
			if len(result.Outputs) == 0 {
				return "", fmt.Errorf("video completed with no outputs")
			}
			if onProgress != nil {
				onProgress(1)
			}
			return result.Outputs[0], nil
		case "failed", "error":
			reason := result.Error
			if reason == "" {
				reason = result.Status
			}
			return "", fmt.Errorf("video generation failed: %s", reason)
		}

		if onProgress != nil {
			onProgress(float64(time.Since(start)) / float64(c.pollMaxWait))
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return "", fmt.Errorf("video generation timed out after %v", c.pollMaxWait)
}

func (c *VideoClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("video API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var envelope wavespeedEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if envelope.Code != 0 && envelope.Code != http.StatusOK {
		return fmt.Errorf("video API error (code %d): %s", envelope.Code, envelope.Message)
	}
	body := envelope.Data
	if len(body) == 0 {
		body = respBody
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response data: %w", err)
	}
	return nil
}
