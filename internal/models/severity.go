package models

import "fmt"

// Severity 报警级别（有序枚举，用于升级比较和显示排序）
// NORMAL < ADVISORY < WARNING < CRITICAL
type Severity int

const (
	SeverityNormal Severity = iota
	SeverityAdvisory
	SeverityWarning
	SeverityCritical
)

// String 返回级别名称（用于日志、API 和 YAML 配置）
func (s Severity) String() string {
	switch s {
	case SeverityNormal:
		return "NORMAL"
	case SeverityAdvisory:
		return "ADVISORY"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// ParseSeverity 解析级别名称（用于 YAML 阈值配置）
func ParseSeverity(name string) (Severity, error) {
	switch name {
	case "NORMAL":
		return SeverityNormal, nil
	case "ADVISORY":
		return SeverityAdvisory, nil
	case "WARNING":
		return SeverityWarning, nil
	case "CRITICAL":
		return SeverityCritical, nil
	default:
		return SeverityNormal, fmt.Errorf("unknown severity: %s", name)
	}
}

// MarshalJSON 序列化为级别名称
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}
