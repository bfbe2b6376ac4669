package policy

import (
	"fmt"
	"sort"

	"skanray-cns/internal/models"
)

// Range 数值范围（Min 含，Max 不含；nil 表示开区间）
type Range struct {
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`
}

// Contains 判断值是否落在范围内
func (r Range) Contains(v float64) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v >= *r.Max {
		return false
	}
	return true
}

// Tier 单个级别的阈值边界（一个级别可以有多个范围，如心率过高和过低都是 CRITICAL）
type Tier struct {
	Severity models.Severity
	Ranges   []Range
}

// Rule 单通道阈值规则（级别按严重度升序排列，范围互不重叠）
type Rule struct {
	Channel string
	Tiers   []Tier
}

// RuleSet 一组通道规则（按通道索引）
type RuleSet map[string]Rule

// PolicySet 阈值策略集
// 解析顺序：patient 覆盖 > bed-class 默认 > global 默认
// 按通道解析：某个作用域定义了该通道的规则即采用其完整级别表，不跨作用域合并
type PolicySet struct {
	Global   RuleSet
	BedClass map[string]RuleSet
	Patient  map[string]RuleSet
}

// Classify 将测量值分类为报警级别（纯函数，无副作用）
// 返回 (级别, 是否存在该通道的规则)；无规则时返回 (NORMAL, false)，
// 调用方据此上报 PolicyGap 诊断
func (p *PolicySet) Classify(channel string, value float64, patientID, bedClass string) (models.Severity, bool) {
	rule, ok := p.resolve(channel, patientID, bedClass)
	if !ok {
		return models.SeverityNormal, false
	}
	for _, tier := range rule.Tiers {
		for _, rng := range tier.Ranges {
			if rng.Contains(value) {
				return tier.Severity, true
			}
		}
	}
	return models.SeverityNormal, true
}

// resolve 按作用域优先级解析通道规则
func (p *PolicySet) resolve(channel, patientID, bedClass string) (Rule, bool) {
	if patientID != "" {
		if set, ok := p.Patient[patientID]; ok {
			if rule, ok := set[channel]; ok {
				return rule, true
			}
		}
	}
	if bedClass != "" {
		if set, ok := p.BedClass[bedClass]; ok {
			if rule, ok := set[channel]; ok {
				return rule, true
			}
		}
	}
	rule, ok := p.Global[channel]
	return rule, ok
}

// Validate 校验所有规则集（加载时调用；失败返回 ConfigError，拒绝启动评估）
func (p *PolicySet) Validate() error {
	if err := validateRuleSet("global", p.Global); err != nil {
		return err
	}
	for class, set := range p.BedClass {
		if err := validateRuleSet("bed-class:"+class, set); err != nil {
			return err
		}
	}
	for patientID, set := range p.Patient {
		if err := validateRuleSet("patient:"+patientID, set); err != nil {
			return err
		}
	}
	return nil
}

func validateRuleSet(scope string, set RuleSet) error {
	for channel, rule := range set {
		if err := validateRule(scope, channel, rule); err != nil {
			return err
		}
	}
	return nil
}

// validateRule 校验单通道规则：
// 1. 级别按严重度严格升序（不含 NORMAL，NORMAL 是缺省）
// 2. 所有范围互不重叠（一个值只能映射到一个级别）
func validateRule(scope, channel string, rule Rule) error {
	if len(rule.Tiers) == 0 {
		return &models.ConfigError{Scope: scope, Channel: channel, Reason: "rule has no tiers"}
	}

	prev := models.SeverityNormal
	var ranges []rangeWithTier
	for _, tier := range rule.Tiers {
		if tier.Severity <= prev {
			return &models.ConfigError{
				Scope: scope, Channel: channel,
				Reason: fmt.Sprintf("tiers must be in strictly ascending severity order, got %s after %s", tier.Severity, prev),
			}
		}
		prev = tier.Severity

		if len(tier.Ranges) == 0 {
			return &models.ConfigError{
				Scope: scope, Channel: channel,
				Reason: fmt.Sprintf("tier %s has no ranges", tier.Severity),
			}
		}
		for _, rng := range tier.Ranges {
			if rng.Min != nil && rng.Max != nil && *rng.Min >= *rng.Max {
				return &models.ConfigError{
					Scope: scope, Channel: channel,
					Reason: fmt.Sprintf("tier %s: min %.2f is not below max %.2f", tier.Severity, *rng.Min, *rng.Max),
				}
			}
			ranges = append(ranges, rangeWithTier{rng, tier.Severity})
		}
	}

	// 按下界排序后检查相邻范围是否重叠
	sort.Slice(ranges, func(i, j int) bool {
		return lowerBound(ranges[i].r) < lowerBound(ranges[j].r)
	})
	for i := 1; i < len(ranges); i++ {
		a, b := ranges[i-1], ranges[i]
		if a.r.Max == nil || lowerBound(b.r) < *a.r.Max {
			return &models.ConfigError{
				Scope: scope, Channel: channel,
				Reason: fmt.Sprintf("overlapping ranges between tiers %s and %s", a.sev, b.sev),
			}
		}
	}
	return nil
}

type rangeWithTier struct {
	r   Range
	sev models.Severity
}

func lowerBound(r Range) float64 {
	if r.Min == nil {
		return negInf
	}
	return *r.Min
}

const negInf = -1.0e308
