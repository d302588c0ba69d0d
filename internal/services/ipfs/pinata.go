package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"ledgermark/internal/services"
)

const (
	pinataService        = "pinata"
	defaultPinataURL     = "https://api.pinata.cloud/pinning/pinFileToIPFS"
	defaultUploadTimeout = 300 * time.Second
)

// Pinata uploads artifacts through a pinFileToIPFS-compatible pinning API.
type Pinata struct {
	url        string
	apiKey     string
	apiSecret  string
	jwt        string
	httpClient *http.Client
}

// PinataOption customizes the pinning client.
type PinataOption func(*Pinata)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) PinataOption {
	return func(p *Pinata) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// NewPinata constructs a pinning client from cfg.
func NewPinata(cfg Config, opts ...PinataOption) *Pinata {
	timeout := defaultUploadTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	p := &Pinata{
		url:        strings.TrimSpace(cfg.PinataURL),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		apiSecret:  strings.TrimSpace(cfg.APISecret),
		jwt:        strings.TrimSpace(cfg.JWT),
		httpClient: &http.Client{Timeout: timeout},
	}
	if p.url == "" {
		p.url = defaultPinataURL
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pinata) Name() string { return pinataService }

// Ready reports whether credentials are configured.
func (p *Pinata) Ready() error {
	if p.jwt == "" && (p.apiKey == "" || p.apiSecret == "") {
		return fmt.Errorf("pinata: %w: api credentials not configured", services.ErrConfiguration)
	}
	return nil
}

type pinataResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// Put uploads data as a multipart form file named name.
func (p *Pinata) Put(ctx context.Context, name string, data []byte, progress ProgressFunc) (Pin, error) {
	if len(data) == 0 {
		return Pin{}, errors.New("pinata upload: empty artifact")
	}
	if strings.TrimSpace(name) == "" {
		return Pin{}, errors.New("pinata upload: file name required")
	}
	if err := p.Ready(); err != nil {
		return Pin{}, err
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return Pin{}, fmt.Errorf("pinata upload: build form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return Pin{}, fmt.Errorf("pinata upload: build form: %w", err)
	}
	metadata, _ := json.Marshal(map[string]string{"name": name})
	if err := form.WriteField("pinataMetadata", string(metadata)); err != nil {
		return Pin{}, fmt.Errorf("pinata upload: build form: %w", err)
	}
	if err := form.Close(); err != nil {
		return Pin{}, fmt.Errorf("pinata upload: build form: %w", err)
	}

	total := int64(body.Len())
	reader := &progressReader{r: &body, total: total, progress: progress}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, reader)
	if err != nil {
		return Pin{}, fmt.Errorf("pinata upload: build request: %w", err)
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", form.FormDataContentType())
	if p.jwt != "" {
		req.Header.Set("Authorization", "Bearer "+p.jwt)
	} else {
		req.Header.Set("pinata_api_key", p.apiKey)
		req.Header.Set("pinata_secret_api_key", p.apiSecret)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Pin{}, services.Transport(pinataService, "upload", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Pin{}, services.Transport(pinataService, "upload", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Pin{}, &services.ServiceError{Service: pinataService, StatusCode: resp.StatusCode, Message: pinataErrorMessage(payload, resp.StatusCode)}
	}

	var parsed pinataResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return Pin{}, &services.ServiceError{Service: pinataService, StatusCode: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	if _, err := ParseCID(parsed.IpfsHash); err != nil {
		return Pin{}, &services.ServiceError{Service: pinataService, StatusCode: resp.StatusCode, Message: err.Error()}
	}
	// The identifier is kept verbatim; it is reused as the ledger input.
	pin := Pin{CID: strings.TrimSpace(parsed.IpfsHash), Size: parsed.PinSize}
	if ts, err := time.Parse(time.RFC3339, parsed.Timestamp); err == nil {
		pin.Timestamp = ts.UTC()
	}
	return pin, nil
}

func pinataErrorMessage(body []byte, status int) string {
	var payload struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch v := payload.Error.(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if reason, ok := v["reason"].(string); ok && reason != "" {
				if details, ok := v["details"].(string); ok && details != "" {
					return reason + ": " + details
				}
				return reason
			}
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(status)
}
