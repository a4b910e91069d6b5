// Package porttest 提供内存版行情服务与执行服务，供各包测试使用。
package porttest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"funding-rate-arbitrage/internal/core/model"
)

// ErrNotFound 未设置的数据
var ErrNotFound = errors.New("porttest: not found")

func key(venue, pair string) string {
	return venue + "|" + pair
}

// Market 内存行情服务
type Market struct {
	mu     sync.Mutex
	rates  map[string]model.FundingRateSnapshot
	prices map[string]decimal.Decimal
	mids   map[string]decimal.Decimal
	// RateErr 按场所注入的费率查询错误
	RateErr map[string]error
}

// NewMarket 创建内存行情服务
func NewMarket() *Market {
	return &Market{
		rates:   make(map[string]model.FundingRateSnapshot),
		prices:  make(map[string]decimal.Decimal),
		mids:    make(map[string]decimal.Decimal),
		RateErr: make(map[string]error),
	}
}

// SetRate 设置资金费率
func (m *Market) SetRate(venue, pair, r string, nextFundingUnix int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[key(venue, pair)] = model.FundingRateSnapshot{
		Venue:           venue,
		TradingPair:     pair,
		Rate:            decimal.RequireFromString(r),
		NextFundingUnix: nextFundingUnix,
	}
}

// SetPrice 设置可成交价格（buy/sell 两侧相同）
func (m *Market) SetPrice(venue, pair, price string) {
	m.SetSidePrice(venue, pair, true, price)
	m.SetSidePrice(venue, pair, false, price)
	m.SetMid(venue, pair, price)
}

// SetSidePrice 设置单侧可成交价格
func (m *Market) SetSidePrice(venue, pair string, isBuy bool, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[fmt.Sprintf("%s|%t", key(venue, pair), isBuy)] = decimal.RequireFromString(price)
}

// SetMid 设置中间价
func (m *Market) SetMid(venue, pair, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids[key(venue, pair)] = decimal.RequireFromString(price)
}

// FundingRate 实现 port.MarketData
func (m *Market) FundingRate(_ context.Context, venue, pair string) (model.FundingRateSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.RateErr[venue]; err != nil {
		return model.FundingRateSnapshot{}, err
	}
	snap, ok := m.rates[key(venue, pair)]
	if !ok {
		return model.FundingRateSnapshot{}, fmt.Errorf("%w: rate %s %s", ErrNotFound, venue, pair)
	}
	return snap, nil
}

// ExecutionPrice 实现 port.PriceSource
func (m *Market) ExecutionPrice(_ context.Context, venue, pair string, _ decimal.Decimal, isBuy bool) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	px, ok := m.prices[fmt.Sprintf("%s|%t", key(venue, pair), isBuy)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: price %s %s", ErrNotFound, venue, pair)
	}
	return px, nil
}

// MidPrice 实现 port.MarketData
func (m *Market) MidPrice(_ context.Context, venue, pair string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	px, ok := m.mids[key(venue, pair)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: mid %s %s", ErrNotFound, venue, pair)
	}
	return px, nil
}

// Leg 内存执行服务中的一条腿
type Leg struct {
	ID     string
	Req    model.OpenRequest
	Closed bool
	PnL    decimal.Decimal
}

// Execution 内存执行服务
type Execution struct {
	mu     sync.Mutex
	seq    int
	fees   map[string]decimal.Decimal
	legs   map[string]*Leg
	order  []string
	closes []string

	// OpenErr 按场所注入的开仓错误
	OpenErr map[string]error
	// CloseErr 按腿 ID 注入的平仓错误
	CloseErr map[string]error
	// PnlErr 按腿 ID 注入的盈亏查询错误
	PnlErr map[string]error
	// Leverage 记录的杠杆设置 venue|pair -> leverage
	Leverage map[string]int
	// Modes 记录的持仓模式设置
	Modes map[string]model.PositionMode
}

// NewExecution 创建内存执行服务
func NewExecution() *Execution {
	return &Execution{
		fees:     make(map[string]decimal.Decimal),
		legs:     make(map[string]*Leg),
		OpenErr:  make(map[string]error),
		CloseErr: make(map[string]error),
		PnlErr:   make(map[string]error),
		Leverage: make(map[string]int),
		Modes:    make(map[string]model.PositionMode),
	}
}

// SetFee 设置场所手续费比例
func (e *Execution) SetFee(venue string, isMaker bool, fee string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fees[fmt.Sprintf("%s|%t", venue, isMaker)] = decimal.RequireFromString(fee)
}

// SetPnL 设置腿的净盈亏
func (e *Execution) SetPnL(legID, pnl string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if leg, ok := e.legs[legID]; ok {
		leg.PnL = decimal.RequireFromString(pnl)
	}
}

// FeeQuote 实现 port.FeeSource
func (e *Execution) FeeQuote(_ context.Context, venue, _ string, _ model.Side, _ decimal.Decimal, isMaker bool) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fee, ok := e.fees[fmt.Sprintf("%s|%t", venue, isMaker)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: fee %s maker=%t", ErrNotFound, venue, isMaker)
	}
	return fee, nil
}

// OpenPosition 实现 port.Execution
func (e *Execution) OpenPosition(_ context.Context, req model.OpenRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.OpenErr[req.Venue]; err != nil {
		return "", err
	}
	e.seq++
	id := fmt.Sprintf("leg-%d", e.seq)
	e.legs[id] = &Leg{ID: id, Req: req}
	e.order = append(e.order, id)
	return id, nil
}

// ClosePosition 实现 port.Execution
func (e *Execution) ClosePosition(_ context.Context, legID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes = append(e.closes, legID)
	if err := e.CloseErr[legID]; err != nil {
		return err
	}
	leg, ok := e.legs[legID]
	if !ok {
		return fmt.Errorf("%w: leg %s", ErrNotFound, legID)
	}
	leg.Closed = true
	return nil
}

// NetPnL 实现 port.Execution
func (e *Execution) NetPnL(_ context.Context, legID string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.PnlErr[legID]; err != nil {
		return decimal.Zero, err
	}
	leg, ok := e.legs[legID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: leg %s", ErrNotFound, legID)
	}
	return leg.PnL, nil
}

// SetLeverage 实现 port.Execution
func (e *Execution) SetLeverage(_ context.Context, venue, pair string, leverage int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Leverage[key(venue, pair)] = leverage
	return nil
}

// SetPositionMode 实现 port.Execution
func (e *Execution) SetPositionMode(_ context.Context, venue string, mode model.PositionMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Modes[venue] = mode
	return nil
}

// Opened 按开仓顺序返回所有腿
func (e *Execution) Opened() []Leg {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Leg, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, *e.legs[id])
	}
	return out
}

// Closes 按调用顺序返回平仓请求的腿 ID
func (e *Execution) Closes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.closes))
	copy(out, e.closes)
	return out
}
