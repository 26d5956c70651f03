package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config for the messaging platform client.
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

// DefaultConfig returns sensible client defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "https://graph.instagram.com/v21.0",
		Timeout:    15 * time.Second,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// Client talks to the messaging platform's send API.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      *logrus.Logger
	config      *Config
}

// MessageSender is the part of the platform API the automation pipeline
// needs.
type MessageSender interface {
	SendDirectMessage(ctx context.Context, channelExternalID, threadExternalID, text string) error
	HealthCheck(ctx context.Context) error
}

func NewClient(config *Config, logger *logrus.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		baseURL:     config.BaseURL,
		accessToken: config.AccessToken,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
		config: config,
	}
}

type sendMessageRequest struct {
	Recipient recipient `json:"recipient"`
	Message   payload   `json:"message"`
}

type recipient struct {
	ThreadID string `json:"thread_id"`
}

type payload struct {
	Text string `json:"text"`
}

type sendMessageResponse struct {
	MessageID string `json:"message_id"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendDirectMessage posts one text reply into a thread.
func (c *Client) SendDirectMessage(ctx context.Context, channelExternalID, threadExternalID, text string) error {
	if channelExternalID == "" {
		return fmt.Errorf("channel external id is required")
	}
	if threadExternalID == "" {
		return fmt.Errorf("thread external id is required")
	}
	if text == "" {
		return fmt.Errorf("text is required")
	}

	body := sendMessageRequest{
		Recipient: recipient{ThreadID: threadExternalID},
		Message:   payload{Text: text},
	}
	endpoint := fmt.Sprintf("/%s/messages", channelExternalID)

	var resp sendMessageResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return err
	}
	c.logger.Debugf("platform: message delivered, id=%s", resp.MessageID)
	return nil
}

// HealthCheck probes the API root.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.doRequestWithRetry(ctx, http.MethodGet, "/me", nil, nil)
}

func (c *Client) createRequest(ctx context.Context, method, endpoint string, body interface{}) (*http.Request, error) {
	url := c.baseURL + endpoint

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	return req, nil
}

func (c *Client) doRequest(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debugf("platform API request: %s %s -> %d", req.Method, req.URL.String(), resp.StatusCode)

	if resp.StatusCode >= 400 {
		var errResp apiError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return &RequestError{Status: resp.StatusCode, Message: errResp.Error.Message, Code: errResp.Error.Code}
		}
		return &RequestError{Status: resp.StatusCode, Message: string(body)}
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) doRequestWithRetry(ctx context.Context, method, endpoint string, body interface{}, result interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
			c.logger.Warnf("platform API retry attempt %d/%d", attempt, c.config.MaxRetries)
		}

		req, err := c.createRequest(ctx, method, endpoint, body)
		if err != nil {
			lastErr = err
			continue
		}

		if err := c.doRequest(req, result); err != nil {
			lastErr = err
			if attempt < c.config.MaxRetries && shouldRetry(err) {
				continue
			}
			break
		}

		return nil
	}

	return lastErr
}

// RequestError is a non-2xx response from the platform API.
type RequestError struct {
	Status  int
	Message string
	Code    int
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("platform API error [%d]: %s", e.Status, e.Message)
}

// shouldRetry retries network failures and server-side errors; client
// errors (4xx) are final.
func shouldRetry(err error) bool {
	if re, ok := err.(*RequestError); ok {
		return re.Status >= 500 || re.Status == http.StatusTooManyRequests
	}
	return true
}
