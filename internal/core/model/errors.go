package model

import "errors"

// 错误分类
// 调用方使用 errors.Is 区分「本周期跳过」与「启动即失败」
var (
	// ErrDataUnavailable 行情、费率或手续费暂不可用；跳过当前交易对或 token，下个周期重试
	ErrDataUnavailable = errors.New("数据暂不可用")
	// ErrConfig 配置错误；仅在启动时出现，启动失败
	ErrConfig = errors.New("配置错误")
	// ErrInconsistentState 状态不一致（例如重复激活同一 token）；记录日志，不致命
	ErrInconsistentState = errors.New("状态不一致")
)
