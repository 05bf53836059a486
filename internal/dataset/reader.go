package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	buyPriceField  = "1. buy price"
	sellPriceField = "4. sell price"
)

// Bar 为数据集中某标的在某一交易日（或时点）的价格条目。
type Bar struct {
	BuyPrice  float64
	SellPrice float64
	HasBuy    bool
	HasSell   bool
}

// Reader 提供预先合并的历史价格数据集（merged.jsonl）的只读访问。
// 文件每行一只标的，含 "Meta Data" 与以 "Time Series" 开头的价格序列。
// 全量加载进内存，交易日集合同时作为交易日历的数据来源。
type Reader struct {
	path    string
	logger  *zap.Logger
	series  map[string]map[string]Bar
	names   map[string]string
	instant []string
}

// Open 读取并解析数据集文件。
func Open(path string, logger *zap.Logger) (*Reader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: 打开数据集 %q 失败: %w", path, err)
	}
	defer f.Close()

	r := &Reader{
		path:   path,
		logger: logger,
		series: make(map[string]map[string]Bar),
		names:  make(map[string]string),
	}

	instants := make(map[string]struct{})

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var doc map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &doc); err != nil {
			r.logger.Warn("跳过无法解析的数据集行", zap.Error(err))
			continue
		}

		symbol, name := parseMeta(doc["Meta Data"])
		if symbol == "" {
			continue
		}
		if name != "" {
			r.names[symbol] = name
		}

		series := findTimeSeries(doc)
		if series == nil {
			continue
		}

		bars := make(map[string]Bar, len(series))
		for ts, entry := range series {
			bar := Bar{}
			if v, ok := parseNumeric(entry[buyPriceField]); ok {
				bar.BuyPrice = v
				bar.HasBuy = true
			}
			if v, ok := parseNumeric(entry[sellPriceField]); ok {
				bar.SellPrice = v
				bar.HasSell = true
			}
			bars[ts] = bar
			instants[ts] = struct{}{}
		}
		r.series[symbol] = bars
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dataset: 读取数据集失败: %w", err)
	}

	r.instant = make([]string, 0, len(instants))
	for ts := range instants {
		r.instant = append(r.instant, ts)
	}
	sort.Strings(r.instant)

	r.logger.Info("历史数据集加载完成",
		zap.String("path", path),
		zap.Int("symbols", len(r.series)),
		zap.Int("instants", len(r.instant)),
	)

	return r, nil
}

// BuyPrice 返回标的在指定交易日的买入价。
func (r *Reader) BuyPrice(symbol, date string) (float64, bool) {
	bar, ok := r.bar(symbol, date)
	if !ok || !bar.HasBuy {
		return 0, false
	}
	return bar.BuyPrice, true
}

// SellPrice 返回标的在指定交易日的卖出价（当日收盘）。
func (r *Reader) SellPrice(symbol, date string) (float64, bool) {
	bar, ok := r.bar(symbol, date)
	if !ok || !bar.HasSell {
		return 0, false
	}
	return bar.SellPrice, true
}

// Name 返回标的的展示名称，未知标的返回空串。
func (r *Reader) Name(symbol string) string {
	return r.names[symbol]
}

// TradingInstants 返回数据集中出现过的全部交易日/时点，升序排列。
func (r *Reader) TradingInstants() []string {
	out := make([]string, len(r.instant))
	copy(out, r.instant)
	return out
}

// IsTradingDay 判断指定日期是否出现在数据集中。
func (r *Reader) IsTradingDay(date string) bool {
	i := sort.SearchStrings(r.instant, date)
	return i < len(r.instant) && r.instant[i] == date
}

func (r *Reader) bar(symbol, date string) (Bar, bool) {
	series, ok := r.series[symbol]
	if !ok {
		return Bar{}, false
	}
	bar, ok := series[date]
	return bar, ok
}

func parseMeta(raw json.RawMessage) (symbol, name string) {
	if raw == nil {
		return "", ""
	}
	var meta map[string]string
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", ""
	}
	return strings.TrimSpace(meta["2. Symbol"]), strings.TrimSpace(meta["2.1. Name"])
}

func findTimeSeries(doc map[string]json.RawMessage) map[string]map[string]interface{} {
	for key, raw := range doc {
		if !strings.HasPrefix(key, "Time Series") {
			continue
		}
		var series map[string]map[string]interface{}
		if err := json.Unmarshal(raw, &series); err != nil {
			return nil
		}
		return series
	}
	return nil
}

func parseNumeric(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
