package notify

import (
	"context"
	"log/slog"
)

// Notifier defines a public type used by phoneauth APIs.
//
// Notifier instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Notifier interface {
	// SendCode delivers a verification code to the phone. The code is
	// plaintext and must not be retained after the call returns.
	SendCode(ctx context.Context, phone, code string) error
}

// LogNotifier writes codes to a logger instead of delivering them. Meant
// for development environments without a gateway.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier describes the newlognotifier operation and its observable behavior.
//
// NewLogNotifier may return an error when input validation, dependency calls, or security checks fail.
// NewLogNotifier does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// SendCode describes the sendcode operation and its observable behavior.
//
// SendCode may return an error when input validation, dependency calls, or security checks fail.
// SendCode does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (n *LogNotifier) SendCode(_ context.Context, phone, code string) error {
	n.logger.Info("verification code issued", "phone", phone, "code", code)
	return nil
}
