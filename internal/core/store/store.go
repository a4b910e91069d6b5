// Package store 维护每个 token 的活跃套利仓位与已平仓历史。
// 决策周期与资金费事件并发访问，所有读写都在同一把锁下完成。
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"funding-rate-arbitrage/internal/core/model"
)

// Store 套利仓位存储
// 读操作返回深拷贝，调用方拿到的资金费累计不会被并发追加撕裂。
type Store struct {
	mu sync.Mutex

	// active 活跃仓位（key: token，每个 token 至多一个）
	active map[string]*model.ArbitragePosition
	// history 已平仓仓位（key: token，按平仓顺序追加）
	history map[string][]*model.ArbitragePosition
}

// New 创建空存储
func New() *Store {
	return &Store{
		active:  make(map[string]*model.ArbitragePosition),
		history: make(map[string][]*model.ArbitragePosition),
	}
}

// Open 激活 token 的套利仓位
// 若该 token 已有活跃仓位，返回 ErrInconsistentState。
func (s *Store) Open(pos *model.ArbitragePosition) error {
	if pos == nil || pos.Token == "" {
		return fmt.Errorf("%w: 仓位缺少 token", model.ErrInconsistentState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.active[pos.Token]; ok {
		return fmt.Errorf("%w: token %s 已有活跃仓位 %s", model.ErrInconsistentState, pos.Token, cur.ID)
	}
	s.active[pos.Token] = pos.Clone()
	return nil
}

// Active 获取 token 的活跃仓位副本
func (s *Store) Active(token string) (*model.ArbitragePosition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.active[token]
	if !ok {
		return nil, false
	}
	return pos.Clone(), true
}

// IsActive token 是否有活跃仓位
func (s *Store) IsActive(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[token]
	return ok
}

// ActiveTokens 有活跃仓位的 token（字典序）
func (s *Store) ActiveTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.active))
	for token := range s.active {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}

// ActivePositions 所有活跃仓位副本（按 token 字典序）
func (s *Store) ActivePositions() []*model.ArbitragePosition {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.ArbitragePosition, 0, len(s.active))
	for _, pos := range s.active {
		out = append(out, pos.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

// AppendFunding 将资金费记录追加到 token 的活跃仓位
// 无活跃仓位时返回 false，不修改任何状态。
func (s *Store) AppendFunding(rec model.FundingPaymentRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.active[rec.Token]
	if !ok {
		return false
	}
	pos.FundingPayments = append(pos.FundingPayments, rec)
	return true
}

// Close 冻结 token 的活跃仓位并移入历史，同时清空活跃槽位
// 参数 legsPnl: 两腿净盈亏合计；总盈亏在锁内按冻结时的资金费记录重新累计，
// 与历史中的 FundingPayments 一致。
// 返回冻结后的仓位副本；无活跃仓位时返回 ErrInconsistentState。
func (s *Store) Close(token string, reason model.ExitReason, closedAt time.Time, legsPnl decimal.Decimal) (*model.ArbitragePosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.active[token]
	if !ok {
		return nil, fmt.Errorf("%w: token %s 无活跃仓位", model.ErrInconsistentState, token)
	}
	pos.ClosedAt = closedAt
	pos.ExitReason = reason
	pos.ExitTotalPnl = pos.FundingTotal().Add(legsPnl)

	delete(s.active, token)
	s.history[token] = append(s.history[token], pos)
	return pos.Clone(), nil
}

// History token 的已平仓仓位副本（按平仓顺序）
func (s *Store) History(token string) []*model.ArbitragePosition {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.history[token]
	out := make([]*model.ArbitragePosition, len(src))
	for i, pos := range src {
		out[i] = pos.Clone()
	}
	return out
}

// HistoryCount 所有 token 的已平仓数量
func (s *Store) HistoryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, h := range s.history {
		n += len(h)
	}
	return n
}
