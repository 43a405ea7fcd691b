package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-micprivacy/internal/util"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	graphBaseURL     = "https://graph.microsoft.com/v1.0"
	graphScope       = "https://graph.microsoft.com/.default"
	tokenURLTemplate = "https://login.microsoftonline.com/%s/oauth2/v2.0/token" //nolint:gosec // URL template, not a credential

	// Retry settings.
	maxRetries       = 3
	initialRetryWait = 1 * time.Second
	maxRetryWait     = 30 * time.Second

	httpTimeout = 30 * time.Second
)

// GraphConfig contains Microsoft Graph API settings for email notifications.
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	FromAddress  string
	Recipients   string // comma-separated
}

// IsConfigured reports whether the Graph configuration has the minimum required fields.
func (c *GraphConfig) IsConfigured() bool {
	return util.IsConfigured(c.TenantID, c.ClientID, c.ClientSecret, c.FromAddress, c.Recipients)
}

// ParseRecipients splits a comma-separated recipients string into a slice.
func ParseRecipients(recipients string) []string {
	var result []string
	for r := range strings.SplitSeq(recipients, ",") {
		if r = strings.TrimSpace(r); r != "" {
			result = append(result, r)
		}
	}
	return result
}

// GraphClient sends emails via Microsoft Graph API.
type GraphClient struct {
	baseURL     string
	fromAddress string
	httpClient  *http.Client
}

// NewGraphClient creates a new email client authenticated with client credentials.
func NewGraphClient(cfg *GraphConfig) (*GraphClient, error) {
	if !cfg.IsConfigured() {
		return nil, fmt.Errorf("graph email is not configured")
	}

	conf := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf(tokenURLTemplate, cfg.TenantID),
		Scopes:       []string{graphScope},
	}

	// Configure base HTTP client with timeout to prevent indefinite hangs
	baseClient := &http.Client{Timeout: httpTimeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, baseClient)

	return &GraphClient{
		baseURL:     graphBaseURL,
		fromAddress: cfg.FromAddress,
		httpClient:  conf.Client(ctx),
	}, nil
}

type graphMailRequest struct {
	Message graphMessage `json:"message"`
}

type graphMessage struct {
	Subject      string           `json:"subject"`
	Body         graphBody        `json:"body"`
	ToRecipients []graphRecipient `json:"toRecipients"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphEmailAddress struct {
	Address string `json:"address"`
}

// SendMail sends a plain text email to the specified recipients.
func (c *GraphClient) SendMail(recipients []string, subject, body string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients specified")
	}

	to := make([]graphRecipient, 0, len(recipients))
	for _, addr := range recipients {
		to = append(to, graphRecipient{EmailAddress: graphEmailAddress{Address: addr}})
	}

	jsonData, err := json.Marshal(graphMailRequest{Message: graphMessage{
		Subject:      subject,
		Body:         graphBody{ContentType: "Text", Content: body},
		ToRecipients: to,
	}})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.doWithRetry(jsonData)
}

// doWithRetry sends the email request with automatic retries.
func (c *GraphClient) doWithRetry(jsonData []byte) error {
	apiURL := fmt.Sprintf("%s/users/%s/sendMail", c.baseURL, url.PathEscape(c.fromAddress))
	backoff := util.NewBackoff(initialRetryWait, maxRetryWait)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff.Next())
		}

		req, err := http.NewRequest(http.MethodPost, apiURL, bytes.NewReader(jsonData))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("send request: %w", err)
			continue
		}

		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusAccepted, http.StatusOK, http.StatusNoContent:
			return nil
		case http.StatusTooManyRequests:
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
					time.Sleep(time.Duration(seconds) * time.Second)
				}
			}
			lastErr = fmt.Errorf("graph API rate limited (429): %s", string(respBody))
		case http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			lastErr = fmt.Errorf("graph API returned %d: %s", resp.StatusCode, string(respBody))
		default:
			return fmt.Errorf("graph API error %d: %s", resp.StatusCode, string(respBody))
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// EmailSubscriber mails privacy state changes through Microsoft Graph.
type EmailSubscriber struct {
	cfg         GraphConfig
	stationName string

	mu     sync.Mutex
	client *GraphClient
}

// NewEmailSubscriber returns a subscriber for the given Graph settings.
func NewEmailSubscriber(cfg GraphConfig, stationName string) *EmailSubscriber {
	return &EmailSubscriber{cfg: cfg, stationName: stationName}
}

// Name implements Subscriber.
func (e *EmailSubscriber) Name() string {
	return "Privacy email"
}

// getOrCreateClient returns the cached Graph client, creating it if needed.
func (e *EmailSubscriber) getOrCreateClient() (*GraphClient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		return e.client, nil
	}
	client, err := NewGraphClient(&e.cfg)
	if err != nil {
		return nil, err
	}
	e.client = client
	return client, nil
}

// HandleNotification implements Subscriber.
func (e *EmailSubscriber) HandleNotification(n Notification) error {
	s, err := n.Settings()
	if err != nil {
		return err
	}

	client, err := e.getOrCreateClient()
	if err != nil {
		return util.WrapError("create Graph client", err)
	}

	subject := "[OK] Microphone Enabled - " + e.stationName
	state := "enabled"
	if s.Muted() {
		subject = "[PRIVACY] Microphone Disabled - " + e.stationName
		state = "disabled"
	}
	body := fmt.Sprintf(
		"The microphone privacy state changed.\n\n"+
			"Microphone:    %s\n"+
			"Policy:        %s\n"+
			"Privacy mask:  0x%08x\n"+
			"Max ramp time: %d ms\n"+
			"Time:          %s",
		state, s.Mode, s.PrivacyMask, s.MaxRampTimeMs, util.HumanTime(n.Timestamp),
	)

	if err := client.SendMail(ParseRecipients(e.cfg.Recipients), subject, body); err != nil {
		return util.WrapError("send email via Graph", err)
	}
	return nil
}
