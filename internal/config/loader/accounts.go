// Package loader reads the per-account strategy settings file and
// watches it for changes, so thresholds and trading modes can be edited
// without restarting the process.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"niftyshop/internal/broker"
	"niftyshop/internal/logger"
	"niftyshop/internal/strategy"
)

// CredentialRefs names the environment variables holding an account's
// broker credentials. Secrets never live in the accounts file itself.
type CredentialRefs struct {
	ClientIDEnv    string `mapstructure:"client_id_env"`
	APISecretEnv   string `mapstructure:"api_secret_env"`
	AccessTokenEnv string `mapstructure:"access_token_env"`
	PINEnv         string `mapstructure:"pin_env"`
}

// Resolve reads the referenced environment variables.
func (c CredentialRefs) Resolve() broker.Credentials {
	return broker.Credentials{
		ClientID:    os.Getenv(c.ClientIDEnv),
		APISecret:   os.Getenv(c.APISecretEnv),
		AccessToken: os.Getenv(c.AccessTokenEnv),
		PIN:         os.Getenv(c.PINEnv),
	}
}

// SettingsConfig is the file shape of one account's strategy settings.
type SettingsConfig struct {
	MAPeriod           int      `mapstructure:"ma_period"`
	EntryThreshold     float64  `mapstructure:"entry_threshold"`
	ExitThreshold      float64  `mapstructure:"exit_threshold"`
	AveragingThreshold float64  `mapstructure:"averaging_threshold"`
	TradeAmount        float64  `mapstructure:"trade_amount"`
	MaxPositions       int      `mapstructure:"max_positions"`
	MaxStocksToScan    int      `mapstructure:"max_stocks_to_scan"`
	TradingMode        string   `mapstructure:"trading_mode"`
	AveragingStyle     string   `mapstructure:"averaging_style"`
	Symbols            []string `mapstructure:"symbols"`
}

// ToStrategy converts to engine settings, filling the symbol universe
// with the NIFTY 50 list when none is configured.
func (s SettingsConfig) ToStrategy() strategy.Settings {
	symbols := s.Symbols
	if len(symbols) == 0 {
		symbols = Nifty50()
	}
	return strategy.Settings{
		MAPeriod:           s.MAPeriod,
		EntryThreshold:     s.EntryThreshold,
		ExitThreshold:      s.ExitThreshold,
		AveragingThreshold: s.AveragingThreshold,
		TradeAmount:        s.TradeAmount,
		MaxPositions:       s.MaxPositions,
		MaxStocksToScan:    s.MaxStocksToScan,
		Mode:               strategy.TradingMode(strings.ToUpper(strings.TrimSpace(s.TradingMode))),
		AveragingStyle:     strategy.AveragingStyle(strings.ToLower(strings.TrimSpace(s.AveragingStyle))),
		Symbols:            symbols,
	}
}

// AccountConfig describes one brokerage account the runner drives.
type AccountConfig struct {
	ID          string         `mapstructure:"id"`
	Broker      string         `mapstructure:"broker"`
	Enabled     *bool          `mapstructure:"enabled"`
	Credentials CredentialRefs `mapstructure:"credentials"`
	Settings    SettingsConfig `mapstructure:"settings"`
}

// IsEnabled defaults to true when the field is absent.
func (a AccountConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// FileConfig is the full accounts file structure.
type FileConfig struct {
	Accounts []AccountConfig `mapstructure:"accounts"`
}

// Snapshot is the read-only view handed to subscribers.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Accounts []AccountConfig
}

// ChangeListener is invoked on every reload.
type ChangeListener func(Snapshot)

// AccountLoader loads the accounts file and hot-reloads it on change.
type AccountLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

func NewAccountLoader(path string) (*AccountLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("account loader requires path")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := bootstrapAccountsFile(path); err != nil {
			return nil, fmt.Errorf("bootstrap accounts file failed: %w", err)
		}
		logger.Infof("Accounts file %s not found, wrote a disabled example", path)
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read accounts file failed: %w", err)
	}
	loader := &AccountLoader{path: path, v: v}
	if err := loader.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := loader.reload(); err != nil {
			logger.Errorf("accounts reload failed (%s): %v", evt.Name, err)
			return
		}
		loader.notify()
	})
	v.WatchConfig()
	return loader, nil
}

// Snapshot returns the current accounts snapshot.
func (l *AccountLoader) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe registers a listener and immediately delivers the current
// snapshot.
func (l *AccountLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go safeNotify(fn, snap)
}

func (l *AccountLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn != nil {
			go safeNotify(fn, snap)
		}
	}
}

func safeNotify(fn ChangeListener, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("accounts listener panic: %v", r)
		}
	}()
	fn(snap)
}

func (l *AccountLoader) reload() error {
	var fileCfg FileConfig
	if err := l.v.Unmarshal(&fileCfg); err != nil {
		return fmt.Errorf("parse accounts file failed: %w", err)
	}
	normalized := make([]AccountConfig, 0, len(fileCfg.Accounts))
	seen := make(map[string]bool)
	for i, acct := range fileCfg.Accounts {
		norm, err := normalizeAccount(i, acct)
		if err != nil {
			return err
		}
		if seen[norm.ID] {
			return fmt.Errorf("duplicate account id %q", norm.ID)
		}
		seen[norm.ID] = true
		normalized = append(normalized, norm)
	}
	l.mu.Lock()
	l.snapshot = Snapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Accounts: normalized,
	}
	l.mu.Unlock()
	logger.Infof("Account loader reloaded %d account(s) from %s", len(normalized), filepath.Base(l.path))
	return nil
}

func normalizeAccount(idx int, acct AccountConfig) (AccountConfig, error) {
	acct.ID = strings.TrimSpace(acct.ID)
	if acct.ID == "" {
		return acct, fmt.Errorf("accounts[%d] missing id", idx)
	}
	acct.Broker = strings.ToLower(strings.TrimSpace(acct.Broker))
	if acct.Broker == "" {
		return acct, fmt.Errorf("account %s missing broker", acct.ID)
	}
	s := &acct.Settings
	if s.MAPeriod <= 0 {
		s.MAPeriod = strategy.DefaultMAPeriod
	}
	if s.EntryThreshold == 0 {
		s.EntryThreshold = -2.0
	}
	if s.ExitThreshold == 0 {
		s.ExitThreshold = 5.0
	}
	if s.AveragingThreshold == 0 {
		s.AveragingThreshold = -5.0
	}
	if s.TradeAmount <= 0 {
		s.TradeAmount = strategy.DefaultTradeAmount
	}
	if s.MaxPositions == 0 {
		s.MaxPositions = -1
	}
	if s.MaxStocksToScan <= 0 {
		s.MaxStocksToScan = strategy.DefaultMaxStocksToScan
	}
	mode := strategy.TradingMode(strings.ToUpper(strings.TrimSpace(s.TradingMode)))
	switch mode {
	case "":
		mode = strategy.ModeNormal
	case strategy.ModeNormal, strategy.ModeExitOnly, strategy.ModePaused:
	default:
		return acct, fmt.Errorf("account %s has unknown trading_mode %q", acct.ID, s.TradingMode)
	}
	s.TradingMode = string(mode)
	style := strategy.AveragingStyle(strings.ToLower(strings.TrimSpace(s.AveragingStyle)))
	switch style {
	case "":
		style = strategy.AveragingSingleShare
	case strategy.AveragingSingleShare, strategy.AveragingFullAllocation:
	default:
		return acct, fmt.Errorf("account %s has unknown averaging_style %q", acct.ID, s.AveragingStyle)
	}
	s.AveragingStyle = string(style)
	if s.EntryThreshold > 0 || s.AveragingThreshold > 0 {
		return acct, fmt.Errorf("account %s entry/averaging thresholds must be negative", acct.ID)
	}
	if s.ExitThreshold <= 0 {
		return acct, fmt.Errorf("account %s exit_threshold must be positive", acct.ID)
	}
	return acct, nil
}

// bootstrapAccountsFile writes a disabled example account so a fresh
// checkout starts without manual file creation. The example uses the
// in-process paper broker and the default strategy settings.
func bootstrapAccountsFile(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	doc := map[string]any{
		"accounts": []map[string]any{
			{
				"id":      "paper",
				"broker":  "paper",
				"enabled": false,
				"settings": map[string]any{
					"ma_period":       strategy.DefaultMAPeriod,
					"entry_threshold": -2.0,
					"exit_threshold":  5.0,
					"trade_amount":    strategy.DefaultTradeAmount,
				},
			},
		},
	}
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func cloneSnapshot(snap Snapshot) Snapshot {
	out := Snapshot{Version: snap.Version, LoadedAt: snap.LoadedAt}
	out.Accounts = make([]AccountConfig, len(snap.Accounts))
	copy(out.Accounts, snap.Accounts)
	for i := range out.Accounts {
		src := snap.Accounts[i].Settings.Symbols
		if len(src) > 0 {
			out.Accounts[i].Settings.Symbols = append([]string(nil), src...)
		}
	}
	return out
}
