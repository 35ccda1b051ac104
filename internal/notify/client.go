package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kestrel/internal/config"
	"kestrel/internal/logger"
	"kestrel/pkg/circuitbreaker"
	pkgerrors "kestrel/pkg/errors"
)

// HTTPClient implements UserDirectory, Pusher and Mailer against the
// platform notification service. Attachments go over the wire base64
// encoded inside the JSON body.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.Wrapper
	logger  logger.Logger
}

func NewHTTPClient(cfg config.DirectoryConfig, log logger.Logger) *HTTPClient {
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("notification-service")),
		logger:  log,
	}
}

func (c *HTTPClient) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	path := fmt.Sprintf("/v1/users/%s", url.PathEscape(userID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

type wireAttachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

func encodeAttachments(attachments []Attachment) []wireAttachment {
	encoded := make([]wireAttachment, 0, len(attachments))
	for _, a := range attachments {
		encoded = append(encoded, wireAttachment{
			Filename: a.Filename,
			Content:  base64.StdEncoding.EncodeToString(a.Data),
		})
	}
	return encoded
}

func (c *HTTPClient) Push(ctx context.Context, userID, message string, attachments []Attachment) error {
	body := map[string]interface{}{
		"user_id":     userID,
		"message":     message,
		"attachments": encodeAttachments(attachments),
	}
	return c.doJSON(ctx, http.MethodPost, "/v1/notifications/message", body, nil)
}

func (c *HTTPClient) Send(ctx context.Context, email, subject, bodyText string, attachments []Attachment) error {
	body := map[string]interface{}{
		"to":          email,
		"subject":     subject,
		"body":        bodyText,
		"attachments": encodeAttachments(attachments),
	}
	return c.doJSON(ctx, http.MethodPost, "/v1/notifications/email", body, nil)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	_, err := c.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		var reqBody io.Reader
		if body != nil {
			encoded, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
			reqBody = strings.NewReader(string(encoded))
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("notification service returned 404 for %s", path))
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("notification service returned status %d for %s", resp.StatusCode, path)
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, fmt.Errorf("failed to decode notification response: %w", err)
			}
		}
		return nil, nil
	})
	return err
}
