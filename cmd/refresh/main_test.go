package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growth-tracker/backend/internal/config"
	"growth-tracker/backend/internal/security"
)

func TestIssueToken_ValidatesAgainstServerAuth(t *testing.T) {
	cfg := &config.Config{TriggerSecret: "s3cret", TriggerJWTIssuer: "growth-tracker"}
	var buf bytes.Buffer
	require.NoError(t, issueToken(&buf, cfg, "nightly-cron", time.Minute))

	token := strings.SplitN(buf.String(), "\n", 2)[0]
	subject, err := security.NewTriggerAuth(cfg.TriggerSecret, cfg.TriggerJWTIssuer, 0).Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "nightly-cron", subject)
}

func TestIssueToken_NoSecret(t *testing.T) {
	var buf bytes.Buffer
	err := issueToken(&buf, &config.Config{}, "nightly-cron", time.Minute)
	assert.True(t, errors.Is(err, security.ErrNoSecret))
	assert.Empty(t, buf.String())
}
