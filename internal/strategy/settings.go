package strategy

// TradingMode gates which categories of action a cycle may take.
type TradingMode string

const (
	ModeNormal   TradingMode = "NORMAL"
	ModeExitOnly TradingMode = "EXIT_ONLY"
	ModePaused   TradingMode = "PAUSED"
)

// AveragingStyle selects how an averaging-down buy is sized.
type AveragingStyle string

const (
	// AveragingSingleShare buys exactly one additional share.
	AveragingSingleShare AveragingStyle = "single_share"
	// AveragingFullAllocation sizes the buy like a fresh entry.
	AveragingFullAllocation AveragingStyle = "full_allocation"
)

const (
	DefaultMAPeriod        = 30
	DefaultMaxStocksToScan = 5
	DefaultTradeAmount     = 2000.0
)

// Settings are the per-account strategy parameters. They are read-only
// to the engine within a cycle.
type Settings struct {
	// MAPeriod is the moving-average window in trading days.
	MAPeriod int
	// EntryThreshold is the maximum deviation in percent for a new
	// entry, expressed negative (e.g. -2.0 means at least 2% below MA).
	EntryThreshold float64
	// ExitThreshold is the minimum profit percent to qualify an exit.
	ExitThreshold float64
	// AveragingThreshold is the loss percent at or below which a
	// position qualifies for averaging down, expressed negative.
	AveragingThreshold float64
	// TradeAmount is the capital allocated per entry, in account
	// currency.
	TradeAmount float64
	// MaxPositions caps concurrent open positions; -1 means unlimited.
	MaxPositions int
	// MaxStocksToScan caps how many entry candidates a scan returns.
	MaxStocksToScan int
	Mode            TradingMode
	AveragingStyle  AveragingStyle
	Symbols         []string
}

func (s Settings) withDefaults() Settings {
	if s.MAPeriod <= 0 {
		s.MAPeriod = DefaultMAPeriod
	}
	if s.MaxStocksToScan <= 0 {
		s.MaxStocksToScan = DefaultMaxStocksToScan
	}
	if s.MaxPositions == 0 {
		s.MaxPositions = -1
	}
	if s.TradeAmount <= 0 {
		s.TradeAmount = DefaultTradeAmount
	}
	if s.Mode == "" {
		s.Mode = ModeNormal
	}
	if s.AveragingStyle == "" {
		s.AveragingStyle = AveragingSingleShare
	}
	return s
}

// AllowsNewEntries reports whether the position limit still permits a
// fresh entry given the current open-position count.
func (s Settings) AllowsNewEntries(openCount int) bool {
	if s.MaxPositions < 0 {
		return true
	}
	return openCount < s.MaxPositions
}
