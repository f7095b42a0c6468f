package app

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/billing-core/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", t.TempDir()+"/absent.env")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "ILS", cfg.DefaultCurrency)
	assert.False(t, cfg.SequenceResetYearly)

	rate, err := cfg.VATRate()
	require.NoError(t, err)
	assert.Equal(t, "0.18", rate.String())

	rates, err := cfg.ExchangeRates()
	require.NoError(t, err)
	assert.Equal(t, "1", rates["ILS"].String())
	assert.Equal(t, "3.7", rates["USD"].String())
}

func TestLoadConfigRejectsBadVATRate(t *testing.T) {
	t.Setenv("ENV_FILE", t.TempDir()+"/absent.env")
	t.Setenv("DEFAULT_VAT_RATE", "18")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/test.env"
	require.NoError(t, writeFile(path, "DEFAULT_CURRENCY=usd\nFX_RATES=ILS:0.27\n"))
	t.Setenv("ENV_FILE", path)
	t.Cleanup(func() {
		_ = os.Unsetenv("DEFAULT_CURRENCY")
		_ = os.Unsetenv("FX_RATES")
	})

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "USD", cfg.DefaultCurrency)

	rates, err := cfg.ExchangeRates()
	require.NoError(t, err)
	assert.Equal(t, "0.27", rates["ILS"].String())
}

func TestInTestMode(t *testing.T) {
	RefreshTestMode()
	assert.True(t, InTestMode())
}

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o600)
}
