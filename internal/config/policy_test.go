package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPolicyHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yml")
	body := "booking:\n  refundPolicy: FULL\n  cancelLockout: 45m\n  defaultTokenTTL: 30m\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	holder, err := NewPolicyHolder(Config{PolicyPath: path})
	require.NoError(t, err)

	got := holder.Get()
	assert.Equal(t, RefundFull, got.RefundPolicy)
	assert.Equal(t, 45*time.Minute, got.CancelLockout)
	assert.Equal(t, 30*time.Minute, got.DefaultTokenTTL)
	assert.Equal(t, 24*time.Hour, got.MaxTokenTTL)
}

func TestValidateBookingPolicy(t *testing.T) {
	p := DefaultBookingPolicy()
	require.NoError(t, ValidateBookingPolicy(p))

	p.RefundPolicy = "partial"
	assert.Error(t, ValidateBookingPolicy(p))

	p = DefaultBookingPolicy()
	p.MaxTokenTTL = time.Minute
	assert.Error(t, ValidateBookingPolicy(p))
}
