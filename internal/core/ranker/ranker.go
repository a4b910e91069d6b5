// Package ranker 对单个 token 的所有有序场所对计算资金费率差并排序。
package ranker

import (
	"sort"

	"github.com/shopspring/decimal"

	"funding-rate-arbitrage/internal/core/model"
	"funding-rate-arbitrage/internal/core/rate"
)

// Rank 计算并排序套利机会
// 参数 snapshots: 按场所配置顺序排列的资金费率快照（顺序决定同分时的先后）
// 返回值按费率差降序；少于两个场所时为空。
//
// 对每个有序对 (V1, V2)，spread = |h(V1) - h(V2)|，h 为盈利周期内的费率；
// 在费率较低的一侧做多、较高的一侧做空，Side 表示 V1 上的方向。
func Rank(reg *rate.Registry, token string, snapshots []model.FundingRateSnapshot) []model.Opportunity {
	if len(snapshots) < 2 {
		return nil
	}

	scaled := make([]decimal.Decimal, len(snapshots))
	for i, snap := range snapshots {
		scaled[i] = reg.HorizonRate(snap.Rate, snap.Venue)
	}

	out := make([]model.Opportunity, 0, len(snapshots)*(len(snapshots)-1))
	for i := range snapshots {
		for j := range snapshots {
			if i == j || snapshots[i].Venue == snapshots[j].Venue {
				continue
			}
			spread := scaled[i].Sub(scaled[j]).Abs()
			// 绝对值下不会出现负数，等值时 spread 为 0
			if !spread.IsPositive() {
				continue
			}
			side := model.SideSell
			if scaled[i].LessThan(scaled[j]) {
				side = model.SideBuy
			}
			out = append(out, model.Opportunity{
				Token:  token,
				Venue1: snapshots[i].Venue,
				Venue2: snapshots[j].Venue,
				Side:   side,
				Spread: spread,
			})
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Spread.GreaterThan(out[b].Spread)
	})
	return out
}
