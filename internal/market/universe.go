package market

// DefaultUniverse 返回指定市场的默认标的池：美股为纳斯达克100，
// A股为上证50。配置可覆盖。
func DefaultUniverse(kind Kind) []string {
	if kind == KindCN {
		out := make([]string, len(sse50Symbols))
		copy(out, sse50Symbols)
		return out
	}
	out := make([]string, len(nasdaq100Symbols))
	copy(out, nasdaq100Symbols)
	return out
}

var nasdaq100Symbols = []string{
	"NVDA", "MSFT", "AAPL", "GOOG", "GOOGL", "AMZN", "META", "AVGO", "TSLA", "NFLX",
	"PLTR", "COST", "ASML", "AMD", "CSCO", "AZN", "TMUS", "MU", "LIN", "PEP",
	"SHOP", "APP", "INTU", "AMAT", "LRCX", "PDD", "QCOM", "ARM", "INTC", "BKNG",
	"AMGN", "TXN", "ISRG", "GILD", "KLAC", "PANW", "ADBE", "HON", "CRWD", "CEG",
	"ADI", "ADP", "DASH", "CMCSA", "VRTX", "MELI", "SBUX", "CDNS", "ORLY", "SNPS",
	"MSTR", "MDLZ", "ABNB", "MRVL", "CTAS", "TRI", "MAR", "MNST", "CSX", "ADSK",
	"PYPL", "FTNT", "AEP", "WDAY", "REGN", "ROP", "NXPI", "DDOG", "AXON", "ROST",
	"IDXX", "EA", "PCAR", "FAST", "EXC", "TTWO", "XEL", "ZS", "PAYX", "WBD",
	"BKR", "CPRT", "CCEP", "FANG", "TEAM", "CHTR", "KDP", "MCHP", "GEHC", "VRSK",
	"CTSH", "CSGP", "KHC", "ODFL", "DXCM", "TTD", "ON", "BIIB", "LULU", "CDW",
	"GFS",
}

var sse50Symbols = []string{
	"600519.SH", "601318.SH", "600036.SH", "601899.SH", "600900.SH", "601166.SH",
	"600276.SH", "600030.SH", "603259.SH", "688981.SH", "688256.SH", "601398.SH",
	"688041.SH", "601211.SH", "601288.SH", "601328.SH", "688008.SH", "600887.SH",
	"600150.SH", "601816.SH", "601127.SH", "600031.SH", "688012.SH", "603501.SH",
	"601088.SH", "600309.SH", "601601.SH", "601668.SH", "603993.SH", "601012.SH",
	"601728.SH", "600690.SH", "600809.SH", "600941.SH", "600406.SH", "601857.SH",
	"601766.SH", "601919.SH", "600050.SH", "600760.SH", "601225.SH", "600028.SH",
	"601988.SH", "688111.SH", "601985.SH", "601888.SH", "601628.SH", "601600.SH",
	"601658.SH", "600048.SH",
}
