package loader

// nifty50 is the default symbol universe scanned when an account does
// not configure its own list, in the exchange-qualified format the
// Fyers-style connectors expect.
var nifty50 = []string{
	"NSE:ADANIENT-EQ", "NSE:ADANIPORTS-EQ", "NSE:APOLLOHOSP-EQ", "NSE:ASIANPAINT-EQ",
	"NSE:AXISBANK-EQ", "NSE:BAJAJ-AUTO-EQ", "NSE:BAJFINANCE-EQ", "NSE:BAJAJFINSV-EQ",
	"NSE:BEL-EQ", "NSE:BHARTIARTL-EQ", "NSE:CIPLA-EQ", "NSE:COALINDIA-EQ",
	"NSE:DRREDDY-EQ", "NSE:EICHERMOT-EQ", "NSE:ETERNAL-EQ", "NSE:GRASIM-EQ",
	"NSE:HCLTECH-EQ", "NSE:HDFCBANK-EQ", "NSE:HDFCLIFE-EQ", "NSE:HEROMOTOCO-EQ",
	"NSE:HINDALCO-EQ", "NSE:HINDUNILVR-EQ", "NSE:ICICIBANK-EQ", "NSE:INDUSINDBK-EQ",
	"NSE:INFY-EQ", "NSE:ITC-EQ", "NSE:JIOFIN-EQ", "NSE:JSWSTEEL-EQ",
	"NSE:KOTAKBANK-EQ", "NSE:LT-EQ", "NSE:M&M-EQ", "NSE:MARUTI-EQ",
	"NSE:NESTLEIND-EQ", "NSE:NTPC-EQ", "NSE:ONGC-EQ", "NSE:POWERGRID-EQ",
	"NSE:RELIANCE-EQ", "NSE:SBILIFE-EQ", "NSE:SBIN-EQ", "NSE:SHRIRAMFIN-EQ",
	"NSE:SUNPHARMA-EQ", "NSE:TATACONSUM-EQ", "NSE:TATAMOTORS-EQ", "NSE:TATASTEEL-EQ",
	"NSE:TCS-EQ", "NSE:TECHM-EQ", "NSE:TITAN-EQ", "NSE:TRENT-EQ",
	"NSE:ULTRACEMCO-EQ", "NSE:WIPRO-EQ",
}

// Nifty50 returns a copy of the default universe.
func Nifty50() []string {
	return append([]string(nil), nifty50...)
}
