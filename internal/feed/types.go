package feed

// Bar 代表一根固定周期K线。Timestamp 保留行情源返回的 RFC 3339 字符串，
// 缓存文件与增量拉取均以该字符串为准。
type Bar struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// CalendarDay 为行情源日历中的一个交易日。
type CalendarDay struct {
	Date  string `json:"date"`
	Open  string `json:"open"`
	Close string `json:"close"`
}

type rawBar struct {
	Timestamp string  `json:"t"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
}

func (b rawBar) toBar() Bar {
	return Bar{
		Timestamp: b.Timestamp,
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	}
}

type barsResponse struct {
	Bars          []rawBar `json:"bars"`
	NextPageToken *string  `json:"next_page_token"`
}

type latestBarResponse struct {
	Symbol string `json:"symbol"`
	Bar    rawBar `json:"bar"`
}
