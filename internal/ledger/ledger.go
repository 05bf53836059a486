package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"agent-trader/internal/market"
)

// sessionResolver 解析上一交易时点，用于会话回退查询。
type sessionResolver interface {
	PreviousInstant(market.Instant) string
}

// Ledger 管理单个 agent 的仅追加持仓账本（JSONL，每行一次变更）。
// 读-改-追加序列必须在 Lock/Unlock 之间执行：进程内以互斥锁串行，
// 跨进程以文件级咨询锁串行；不同 agent 的账本互不阻塞。
type Ledger struct {
	agent    string
	path     string
	resolver sessionResolver
	logger   *zap.Logger

	mu    sync.Mutex
	flock *flock.Flock
}

// New 构造指定 agent 的账本访问器。账本文件位于
// {dataDir}/{agent}/position/position.jsonl。
func New(dataDir, agent string, resolver sessionResolver, logger *zap.Logger) (*Ledger, error) {
	if agent == "" {
		return nil, fmt.Errorf("ledger: agent 标识不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	agentDir := filepath.Join(dataDir, agent)
	if err := os.MkdirAll(filepath.Join(agentDir, "position"), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: 创建账本目录失败: %w", err)
	}

	return &Ledger{
		agent:    agent,
		path:     filepath.Join(agentDir, "position", "position.jsonl"),
		resolver: resolver,
		logger:   logger.With(zap.String("agent", agent)),
		flock:    flock.New(filepath.Join(agentDir, ".position.lock")),
	}, nil
}

// Agent 返回账本所属的 agent 标识。
func (l *Ledger) Agent() string {
	return l.agent
}

// Lock 获取该账本的独占锁，持有期间允许执行读-改-追加序列。
func (l *Ledger) Lock() error {
	l.mu.Lock()
	if err := l.flock.Lock(); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("ledger: 获取账本文件锁失败: %w", err)
	}
	return nil
}

// Unlock 释放独占锁。
func (l *Ledger) Unlock() {
	if err := l.flock.Unlock(); err != nil {
		l.logger.Warn("释放账本文件锁失败", zap.Error(err))
	}
	l.mu.Unlock()
}

// Register 创建账本并写入期初快照：全部标的持仓为0，CASH 为期初资金。
// 账本已存在时不做任何修改，仅记录告警（幂等）。
func (l *Ledger) Register(initDate string, initialCash float64, universe []string) error {
	if err := l.Lock(); err != nil {
		return err
	}
	defer l.Unlock()

	if _, err := os.Stat(l.path); err == nil {
		l.logger.Warn("账本已存在，跳过注册", zap.String("path", l.path))
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("ledger: 检查账本文件失败: %w", err)
	}

	return l.writeInit(initDate, initialCash, universe)
}

// Reset 清空并重新初始化账本。仅限会话（重）启动时的管理操作，
// 绝不可与交易并发执行。
func (l *Ledger) Reset(initDate string, initialCash float64, universe []string) error {
	if err := l.Lock(); err != nil {
		return err
	}
	defer l.Unlock()

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ledger: 删除旧账本失败: %w", err)
	}

	l.logger.Info("账本已重置", zap.String("path", l.path))
	return l.writeInit(initDate, initialCash, universe)
}

func (l *Ledger) writeInit(initDate string, initialCash float64, universe []string) error {
	positions := make(map[string]float64, len(universe)+1)
	for _, symbol := range universe {
		positions[symbol] = 0
	}
	positions[market.CashSymbol] = initialCash

	snap := Snapshot{
		Date:      initDate,
		ID:        0,
		Action:    &Action{Kind: ActionInit},
		Positions: positions,
	}
	if err := l.appendLocked(snap); err != nil {
		return err
	}

	l.logger.Info("账本注册完成",
		zap.String("init_date", initDate),
		zap.Float64("initial_cash", initialCash),
		zap.Int("universe", len(universe)),
	)
	return nil
}

// Append 追加一条快照。调用方必须持有 Lock。写入在返回前落盘，
// 失败时不会留下半行记录之外的任何状态。
func (l *Ledger) Append(snap Snapshot) error {
	return l.appendLocked(snap)
}

func (l *Ledger) appendLocked(snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("ledger: 序列化快照失败: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: 打开账本文件失败: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("ledger: 写入账本失败: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("ledger: 账本落盘失败: %w", err)
	}
	return nil
}

// LatestAt 返回指定时点可见的最新快照：优先取同一会话内序号最大的记录，
// 其次回退到上一交易会话，仍未命中时取时点之前最新的一条记录。
// 账本为空或不存在时返回空持仓与 NotFoundID。
func (l *Ledger) LatestAt(instant market.Instant) (map[string]float64, int, error) {
	records, err := l.readAll()
	if err != nil {
		return nil, NotFoundID, err
	}
	if len(records) == 0 {
		return map[string]float64{}, NotFoundID, nil
	}

	if snap, ok := latestForDate(records, instant.Raw); ok {
		return snap.Positions, snap.ID, nil
	}

	if l.resolver != nil {
		prev := l.resolver.PreviousInstant(instant)
		if snap, ok := latestForDate(records, prev); ok {
			return snap.Positions, snap.ID, nil
		}
	}

	if snap, ok := latestBefore(records, instant.Raw); ok {
		return snap.Positions, snap.ID, nil
	}

	return map[string]float64{}, NotFoundID, nil
}

// LatestBefore 返回严格早于指定时点的最新快照，用于"当日开盘持仓"类
// 报告，避免把同一会话内的变更算作基准。
func (l *Ledger) LatestBefore(instant market.Instant) (map[string]float64, int, error) {
	records, err := l.readAll()
	if err != nil {
		return nil, NotFoundID, err
	}

	if snap, ok := latestBefore(records, instant.Raw); ok {
		return snap.Positions, snap.ID, nil
	}
	return map[string]float64{}, NotFoundID, nil
}

// BoughtInSession 统计指定会话内该标的通过 buy 操作累计买入的股数，
// 用于整手市场的 T+1 可卖检查。
func (l *Ledger) BoughtInSession(instant market.Instant, symbol string) (int, error) {
	records, err := l.readAll()
	if err != nil {
		return 0, err
	}

	session := instant.SessionDate()
	total := 0
	for _, rec := range records {
		if sessionOf(rec.Date) != session {
			continue
		}
		if rec.Action != nil && rec.Action.Kind == ActionBuy && rec.Action.Symbol == symbol {
			total += rec.Action.Amount
		}
	}
	return total, nil
}

// History 返回账本的全部快照（按写入顺序）。调用方不应在持锁时调用。
func (l *Ledger) History() ([]Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAll()
}

// Exists 判断账本文件是否已创建。
func (l *Ledger) Exists() bool {
	_, err := os.Stat(l.path)
	return err == nil
}

func (l *Ledger) readAll() ([]Snapshot, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: 读取账本文件失败: %w", err)
	}
	defer f.Close()

	var records []Snapshot
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(line, &snap); err != nil {
			l.logger.Warn("跳过无法解析的账本记录", zap.Error(err))
			continue
		}
		records = append(records, snap)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ledger: 扫描账本文件失败: %w", err)
	}
	return records, nil
}

// latestForDate 返回日期完全匹配的记录中序号最大的一条。
func latestForDate(records []Snapshot, date string) (Snapshot, bool) {
	best := Snapshot{ID: NotFoundID}
	found := false
	for _, rec := range records {
		if rec.Date == date && rec.ID > best.ID {
			best = rec
			found = true
		}
	}
	return best, found
}

// latestBefore 返回日期严格早于 instant 的记录中 (日期, 序号) 最大的一条。
// 账本日期均为 ISO 友好格式，字典序即时间序。
func latestBefore(records []Snapshot, instant string) (Snapshot, bool) {
	earlier := make([]Snapshot, 0, len(records))
	for _, rec := range records {
		if rec.Date < instant {
			earlier = append(earlier, rec)
		}
	}
	if len(earlier) == 0 {
		return Snapshot{}, false
	}

	sort.Slice(earlier, func(i, j int) bool {
		if earlier[i].Date != earlier[j].Date {
			return earlier[i].Date > earlier[j].Date
		}
		return earlier[i].ID > earlier[j].ID
	})
	return earlier[0], true
}

func sessionOf(date string) string {
	if len(date) > 10 {
		return date[:10]
	}
	return date
}
