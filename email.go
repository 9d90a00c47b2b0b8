package authcore

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
)

// ResetNotifier delivers a password reset link out of band.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, email, resetLink string) error
}

// ConsoleNotifier is a development implementation that logs emails to console
type ConsoleNotifier struct{}

func (c *ConsoleNotifier) NotifyPasswordReset(_ context.Context, to string, resetLink string) error {
	log.Printf("\n=== EMAIL: Password Reset ===")
	log.Printf("To: %s", to)
	log.Printf("Subject: Reset your password")
	log.Printf("Body: Reset your password by clicking: %s", resetLink)
	log.Printf("==============================\n")
	return nil
}

// ResetLink builds the link mailed to the user.
func ResetLink(baseURL, token string) string {
	return fmt.Sprintf("%s/auth/reset-password?token=%s", strings.TrimSuffix(baseURL, "/"), url.QueryEscape(token))
}
