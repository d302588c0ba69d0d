package transform

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ledgermark/internal/fileutil"
	"ledgermark/internal/services"
)

const (
	serviceName        = "transform"
	defaultHTTPTimeout = 120 * time.Second
	maxResponseBytes   = 128 << 20
)

// Config captures the runtime settings required to talk to the transform service.
type Config struct {
	BaseURL        string
	TimeoutSeconds int
	Key            int
	Delta          float64
}

// Client wraps the transform service HTTP API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a transform client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			TimeoutSeconds: cfg.TimeoutSeconds,
			Key:            cfg.Key,
			Delta:          cfg.Delta,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Delta reports the embedding strength the client requests.
func (c *Client) Delta() float64 {
	return c.cfg.Delta
}

// Registration is an existing ledger record reported by the check endpoint.
type Registration struct {
	Owner      string `json:"owner"`
	IPFSHash   string `json:"ipfs_hash"`
	SHA256Hash string `json:"sha256_hash"`
	Timestamp  int64  `json:"timestamp"`
	Delta      int64  `json:"delta,omitempty"`
}

// CheckResult is the outcome of a duplicate check. Existing is nil when the
// fingerprint is not registered.
type CheckResult struct {
	ImageHash string
	Delta     *float64
	Existing  *Registration
}

// EmbedResult carries the transformed artifact and the service-reported metadata.
type EmbedResult struct {
	ImageHash string
	InputHash string
	Delta     float64
	BER       float64
	Artifact  []byte
	MediaType string
}

// WatermarkThreshold is the bit error rate below which an image is treated
// as carrying the expected watermark.
const WatermarkThreshold = 0.3

// VerifyResult reports how well the expected watermark survives in an image.
type VerifyResult struct {
	BER       float64 `json:"ber"`
	ImageHash string  `json:"image_hash"`
}

// Watermarked reports whether the BER is under WatermarkThreshold.
func (r VerifyResult) Watermarked() bool {
	return r.BER < WatermarkThreshold
}

type imageRequest struct {
	Image    string   `json:"image"`
	Filename string   `json:"filename,omitempty"`
	Key      *int     `json:"key,omitempty"`
	Delta    *float64 `json:"delta,omitempty"`
}

type checkResponse struct {
	ImageHash      string        `json:"image_hash"`
	Delta          *float64      `json:"delta"`
	BlockchainData *Registration `json:"blockchain_data"`
}

type embedResponse struct {
	ImageHash        string  `json:"image_hash"`
	InputHash        string  `json:"input_hash"`
	Delta            float64 `json:"delta"`
	BER              float64 `json:"ber"`
	WatermarkedImage string  `json:"watermarked_image"`
	MediaType        string  `json:"media_type"`
}

type extractResponse struct {
	Watermark [][]int `json:"watermark"`
}

type errorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	BER     *float64 `json:"ber"`
	BERAlt  *float64 `json:"BER"`
}

// Check asks whether the image is already registered. The check has no side
// effects, so repeated calls with the same image return the same answer.
func (c *Client) Check(ctx context.Context, image []byte, filename string) (CheckResult, error) {
	if len(image) == 0 {
		return CheckResult{}, errors.New("transform check: image required")
	}
	var resp checkResponse
	if err := c.post(ctx, "check", imageRequest{Image: encode(image), Filename: filename}, &resp); err != nil {
		return CheckResult{}, err
	}
	result := CheckResult{
		ImageHash: strings.ToLower(strings.TrimSpace(resp.ImageHash)),
		Delta:     resp.Delta,
	}
	if resp.BlockchainData != nil && strings.TrimSpace(resp.BlockchainData.IPFSHash) != "" {
		existing := *resp.BlockchainData
		result.Existing = &existing
	}
	return result, nil
}

// Embed submits the original image and returns the fingerarked artifact.
func (c *Client) Embed(ctx context.Context, image []byte, filename string) (EmbedResult, error) {
	if len(image) == 0 {
		return EmbedResult{}, errors.New("transform embed: image required")
	}
	key, delta := c.cfg.Key, c.cfg.Delta
	var resp embedResponse
	if err := c.post(ctx, "embed", imageRequest{Image: encode(image), Filename: filename, Key: &key, Delta: &delta}, &resp); err != nil {
		return EmbedResult{}, err
	}
	artifact, err := base64.StdEncoding.DecodeString(strings.TrimSpace(resp.WatermarkedImage))
	if err != nil {
		return EmbedResult{}, &services.ServiceError{Service: serviceName, Message: fmt.Sprintf("embed returned an undecodable artifact: %v", err)}
	}
	if len(artifact) == 0 {
		return EmbedResult{}, &services.ServiceError{Service: serviceName, Message: "embed returned an empty artifact"}
	}
	imageHash := strings.ToLower(strings.TrimSpace(resp.ImageHash))
	if imageHash == "" {
		return EmbedResult{}, &services.ServiceError{Service: serviceName, Message: "embed response missing image_hash"}
	}
	mediaType := strings.TrimSpace(resp.MediaType)
	if mediaType == "" {
		mediaType = fileutil.SniffMediaType(filename, artifact)
	}
	result := EmbedResult{
		ImageHash: imageHash,
		InputHash: strings.ToLower(strings.TrimSpace(resp.InputHash)),
		Delta:     resp.Delta,
		BER:       resp.BER,
		Artifact:  artifact,
		MediaType: mediaType,
	}
	if result.Delta == 0 {
		result.Delta = delta
	}
	return result, nil
}

// Verify measures the residual error of the expected watermark in image.
func (c *Client) Verify(ctx context.Context, image []byte) (VerifyResult, error) {
	if len(image) == 0 {
		return VerifyResult{}, errors.New("transform verify: image required")
	}
	key, delta := c.cfg.Key, c.cfg.Delta
	var resp VerifyResult
	if err := c.post(ctx, "verify", imageRequest{Image: encode(image), Key: &key, Delta: &delta}, &resp); err != nil {
		return VerifyResult{}, err
	}
	resp.ImageHash = strings.ToLower(strings.TrimSpace(resp.ImageHash))
	return resp, nil
}

// Extract returns the watermark bit matrix recovered from image.
func (c *Client) Extract(ctx context.Context, image []byte) ([][]int, error) {
	if len(image) == 0 {
		return nil, errors.New("transform extract: image required")
	}
	key, delta := c.cfg.Key, c.cfg.Delta
	var resp extractResponse
	if err := c.post(ctx, "extract", imageRequest{Image: encode(image), Key: &key, Delta: &delta}, &resp); err != nil {
		return nil, err
	}
	return resp.Watermark, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	if c.cfg.BaseURL == "" {
		return fmt.Errorf("transform %s: base url not configured", endpoint)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transform %s: encode request: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transform %s: build request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-ID", rid)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Transport(serviceName, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return services.Transport(serviceName, endpoint, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(endpoint, resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &services.ServiceError{Service: serviceName, StatusCode: resp.StatusCode, Message: fmt.Sprintf("%s returned malformed JSON: %v", endpoint, err)}
	}
	return nil
}

func statusError(endpoint string, status int, body []byte) error {
	var payload errorResponse
	message := ""
	if err := json.Unmarshal(body, &payload); err == nil {
		message = strings.TrimSpace(payload.Error)
		if message == "" {
			message = strings.TrimSpace(payload.Message)
		}
		ber := payload.BER
		if ber == nil {
			ber = payload.BERAlt
		}
		if ber != nil {
			message = fmt.Sprintf("%s (BER %.4f)", strings.TrimSuffix(message, "."), *ber)
		}
	}
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &services.ServiceError{Service: serviceName + " " + endpoint, StatusCode: status, Message: message}
}

func encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Ping reports whether the service answers HTTP at its base URL. Any
// response below 500 counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c.cfg.BaseURL == "" {
		return services.Wrap(services.ErrConfiguration, "", "ping", "transform base url not configured", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("transform ping: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Transport(serviceName, "ping", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 500 {
		return &services.ServiceError{Service: serviceName, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return nil
}
