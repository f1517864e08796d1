package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrGatewayRejected is an exported constant or variable used by the verification engine.
var ErrGatewayRejected = errors.New("notify: gateway rejected the message")

// WhatsAppConfig defines a public type used by phoneauth APIs.
//
// WhatsAppConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type WhatsAppConfig struct {
	// BaseURL of the gateway, e.g. https://api.z-api.io.
	BaseURL string
	// InstanceID and InstanceToken address the gateway instance.
	InstanceID    string
	InstanceToken string
	// ClientToken is sent as the Client-Token header.
	ClientToken string
	// MessageTemplate must contain one %s verb for the code. Empty selects
	// a default template.
	MessageTemplate string
	// Timeout bounds each delivery request when the caller's context has
	// no earlier deadline.
	Timeout time.Duration
}

const defaultMessageTemplate = "Your verification code is %s. It expires in 5 minutes."

// WhatsAppNotifier defines a public type used by phoneauth APIs.
//
// WhatsAppNotifier instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type WhatsAppNotifier struct {
	config WhatsAppConfig
	client *http.Client
}

// NewWhatsAppNotifier describes the newwhatsappnotifier operation and its observable behavior.
//
// NewWhatsAppNotifier may return an error when input validation, dependency calls, or security checks fail.
// NewWhatsAppNotifier does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewWhatsAppNotifier(cfg WhatsAppConfig) (*WhatsAppNotifier, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("notify: BaseURL required")
	}
	if cfg.InstanceID == "" || cfg.InstanceToken == "" {
		return nil, errors.New("notify: instance credentials required")
	}
	if cfg.MessageTemplate == "" {
		cfg.MessageTemplate = defaultMessageTemplate
	}
	if !strings.Contains(cfg.MessageTemplate, "%s") {
		return nil, errors.New("notify: MessageTemplate must contain %s")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &WhatsAppNotifier{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type sendTextRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// SendCode describes the sendcode operation and its observable behavior.
//
// SendCode may return an error when input validation, dependency calls, or security checks fail.
// SendCode does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (n *WhatsAppNotifier) SendCode(ctx context.Context, phone, code string) error {
	body, err := json.Marshal(sendTextRequest{
		Phone:   phone,
		Message: fmt.Sprintf(n.config.MessageTemplate, code),
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/instances/%s/token/%s/send-text",
		strings.TrimRight(n.config.BaseURL, "/"),
		n.config.InstanceID,
		n.config.InstanceToken,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.config.ClientToken != "" {
		req.Header.Set("Client-Token", n.config.ClientToken)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send failed: %w", err)
	}
	defer resp.Body.Close()

	// drain so the connection can be reused
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrGatewayRejected, resp.StatusCode)
	}
	return nil
}
