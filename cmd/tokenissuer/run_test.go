package tokenissuer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.platform.alem.school/amibragim/order-tracker/internal/auth"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/identity"
)

const configYAML = `
log:
  level: error
store:
  driver: memory
rabbitmq:
  disabled: true
auth:
  secret: 0123456789abcdef0123
  issuer: tests
  payment_secret: pay
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))
	return path
}

func TestRunIssuesVerifiableToken(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), writeConfig(t), "restaurant_admin", "owner1", &out))

	sessions := auth.NewSessions("0123456789abcdef0123", "tests", 0)
	who, err := sessions.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, identity.Identity{Role: identity.RoleRestaurantAdmin, UserID: "owner1"}, who)
}

func TestRunRejectsSystemRole(t *testing.T) {
	var out bytes.Buffer
	err := Run(context.Background(), writeConfig(t), "system", "sweeper", &out)
	assert.ErrorIs(t, err, auth.ErrRoleNotIssuable)
	assert.Empty(t, out.String())
}
