package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Jdubz/imagineer/internal/domain"
	"github.com/Jdubz/imagineer/internal/storage"
)

// HTTPGenerator calls a synchronous image-generation HTTP API and persists
// the returned bytes through the file store. The artifact reference is the
// storage key.
type HTTPGenerator struct {
	baseURL string
	client  *http.Client
	store   *storage.FileStore
	logger  zerolog.Logger
}

// NewHTTPGenerator builds a generator against the given API base URL. The
// timeout bounds the whole generation call.
func NewHTTPGenerator(baseURL string, timeout time.Duration, store *storage.FileStore, logger zerolog.Logger) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		store:   store,
		logger:  logger,
	}
}

type generateRequest struct {
	Prompt         string                 `json:"prompt"`
	NegativePrompt string                 `json:"negative_prompt,omitempty"`
	Seed           *int64                 `json:"seed,omitempty"`
	Steps          int                    `json:"steps"`
	Width          int                    `json:"width"`
	Height         int                    `json:"height"`
	Guidance       float64                `json:"guidance"`
	Adapters       []domain.AdapterWeight `json:"adapters,omitempty"`
}

// Generate posts the parameters to the backend's /generate endpoint, saves
// the returned image and returns its storage key.
func (g *HTTPGenerator) Generate(ctx context.Context, jobID uuid.UUID, params domain.GenerationParams) (string, error) {
	payload := generateRequest{
		Prompt:         params.Prompt,
		NegativePrompt: params.NegativePrompt,
		Seed:           params.Seed,
		Steps:          params.Steps,
		Width:          params.Width,
		Height:         params.Height,
		Guidance:       params.Guidance,
		Adapters:       params.Adapters,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/*")

	g.logger.Debug().Str("job_id", jobID.String()).Int("steps", params.Steps).Msg("generator: calling backend")
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation backend returned status %d: %s", resp.StatusCode, string(data))
	}
	if readErr != nil {
		return "", fmt.Errorf("read generation response: %w", readErr)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("generation backend returned empty image data")
	}

	key := fmt.Sprintf("generated/%s/image.png", jobID)
	savedKey, err := g.store.Write(ctx, key, data)
	if err != nil {
		return "", fmt.Errorf("persist artifact: %w", err)
	}
	g.logger.Info().Str("job_id", jobID.String()).Str("output_ref", savedKey).Int("size_bytes", len(data)).Msg("generator: artifact stored")
	return savedKey, nil
}
