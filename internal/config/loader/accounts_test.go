package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"niftyshop/internal/strategy"
)

func writeAccounts(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalAccounts = `
accounts:
  - id: primary
    broker: fyers
`

func TestLoaderFillsSettingsDefaults(t *testing.T) {
	loader, err := NewAccountLoader(writeAccounts(t, minimalAccounts))
	require.NoError(t, err)

	snap := loader.Snapshot()
	require.Len(t, snap.Accounts, 1)
	acct := snap.Accounts[0]
	assert.Equal(t, "primary", acct.ID)
	assert.Equal(t, "fyers", acct.Broker)
	assert.True(t, acct.IsEnabled())

	s := acct.Settings
	assert.Equal(t, strategy.DefaultMAPeriod, s.MAPeriod)
	assert.Equal(t, -2.0, s.EntryThreshold)
	assert.Equal(t, 5.0, s.ExitThreshold)
	assert.Equal(t, -5.0, s.AveragingThreshold)
	assert.Equal(t, float64(strategy.DefaultTradeAmount), s.TradeAmount)
	assert.Equal(t, -1, s.MaxPositions, "uncapped when not configured")
	assert.Equal(t, strategy.DefaultMaxStocksToScan, s.MaxStocksToScan)
	assert.Equal(t, string(strategy.ModeNormal), s.TradingMode)
	assert.Equal(t, string(strategy.AveragingSingleShare), s.AveragingStyle)

	strat := s.ToStrategy()
	assert.Len(t, strat.Symbols, 50, "empty symbol list falls back to the NIFTY 50")
	assert.Equal(t, strategy.ModeNormal, strat.Mode)
}

func TestLoaderValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing id", "accounts:\n  - broker: fyers\n", "missing id"},
		{"missing broker", "accounts:\n  - id: a\n", "missing broker"},
		{"bad mode", "accounts:\n  - id: a\n    broker: fyers\n    settings:\n      trading_mode: YOLO\n", "trading_mode"},
		{"bad style", "accounts:\n  - id: a\n    broker: fyers\n    settings:\n      averaging_style: martingale\n", "averaging_style"},
		{"positive entry", "accounts:\n  - id: a\n    broker: fyers\n    settings:\n      entry_threshold: 2.0\n", "must be negative"},
		{"negative exit", "accounts:\n  - id: a\n    broker: fyers\n    settings:\n      exit_threshold: -5.0\n", "must be positive"},
		{"duplicate ids", "accounts:\n  - id: a\n    broker: fyers\n  - id: a\n    broker: fyers\n", "duplicate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewAccountLoader(writeAccounts(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoaderNormalizesModeAndStyleCase(t *testing.T) {
	loader, err := NewAccountLoader(writeAccounts(t, `
accounts:
  - id: a
    broker: fyers
    enabled: false
    settings:
      trading_mode: exit_only
      averaging_style: FULL_ALLOCATION
`))
	require.NoError(t, err)
	acct := loader.Snapshot().Accounts[0]
	assert.False(t, acct.IsEnabled())
	assert.Equal(t, string(strategy.ModeExitOnly), acct.Settings.TradingMode)
	assert.Equal(t, string(strategy.AveragingFullAllocation), acct.Settings.AveragingStyle)
}

func TestLoaderBootstrapsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "accounts.yaml")

	loader, err := NewAccountLoader(path)
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr, "example file is written to disk")

	snap := loader.Snapshot()
	require.Len(t, snap.Accounts, 1)
	acct := snap.Accounts[0]
	assert.Equal(t, "paper", acct.ID)
	assert.Equal(t, "paper", acct.Broker)
	assert.False(t, acct.IsEnabled(), "bootstrapped account starts disabled")
	assert.Equal(t, strategy.DefaultMAPeriod, acct.Settings.MAPeriod)
}

func TestCredentialRefsResolveFromEnv(t *testing.T) {
	t.Setenv("TEST_CLIENT_ID", "CID-1")
	t.Setenv("TEST_TOKEN", "tok")
	refs := CredentialRefs{ClientIDEnv: "TEST_CLIENT_ID", AccessTokenEnv: "TEST_TOKEN"}
	creds := refs.Resolve()
	assert.Equal(t, "CID-1", creds.ClientID)
	assert.Equal(t, "tok", creds.AccessToken)
	assert.Empty(t, creds.APISecret, "unset refs resolve empty")
}

func TestSnapshotIsIsolatedFromCaller(t *testing.T) {
	loader, err := NewAccountLoader(writeAccounts(t, `
accounts:
  - id: a
    broker: fyers
    settings:
      symbols: ["NSE:INFY-EQ", "NSE:TCS-EQ"]
`))
	require.NoError(t, err)

	snap := loader.Snapshot()
	snap.Accounts[0].Settings.Symbols[0] = "mutated"

	fresh := loader.Snapshot()
	assert.Equal(t, "NSE:INFY-EQ", fresh.Accounts[0].Settings.Symbols[0])
	assert.Equal(t, snap.Version, fresh.Version)
}
