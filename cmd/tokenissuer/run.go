package tokenissuer

import (
	"context"
	"fmt"
	"io"

	"git.platform.alem.school/amibragim/order-tracker/internal/auth"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/identity"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/config"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
)

// Run signs a session token for (role, userID) with the configured secret and writes it to out.
func Run(ctx context.Context, configPath, role, userID string, out io.Writer) error {
	logger := logger.NewLogger("issue-token")
	ctx = logger.WithRequestID(ctx, "startup-001")

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		logger.Error(ctx, "config_load_failed", "Failed to load configuration", err)
		return err
	}

	who := identity.Identity{Role: identity.Role(role), UserID: userID}
	sessions := auth.NewSessions(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	token, err := sessions.Issue(who)
	if err != nil {
		return fmt.Errorf("issue token for %s: %w", who, err)
	}

	logger.Debug(ctx, "token_issued", "Session token issued", map[string]any{
		"identity": who.String(),
		"ttl":      cfg.Auth.TokenTTL.String(),
	})
	_, err = fmt.Fprintln(out, token)
	return err
}
