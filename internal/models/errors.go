package models

import (
	"errors"
	"fmt"
)

// 校验错误：样本被拒绝，状态不变，同步返回调用方，引擎不自动重试
var (
	// ErrMismatchedBed 样本的 bed_id 与目标床位不符
	ErrMismatchedBed = errors.New("sample bed_id does not match monitor bed")

	// ErrStaleSample 样本时间戳不晚于当前最新样本（乱序投递保护）
	ErrStaleSample = errors.New("sample timestamp is not newer than latest sample")
)

// 生命周期错误：报警确认失败，无状态变化
var (
	ErrAlarmNotFound = errors.New("alarm not found")
	ErrAlarmTerminal = errors.New("alarm is in terminal state")

	// ErrBedNotFound 床位未注册
	ErrBedNotFound = errors.New("bed not registered")
)

// ConfigError 阈值策略配置错误（加载时快速失败，拒绝评估而不是猜测级别）
type ConfigError struct {
	Scope   string // "global" / bed class / patient id
	Channel string
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid threshold policy (scope=%s, channel=%s): %s", e.Scope, e.Channel, e.Reason)
}
