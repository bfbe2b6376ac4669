package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"skanray-cns/internal/models"
)

// 阈值策略 YAML 文件结构：
//
//	global:
//	  heart_rate:
//	    - severity: WARNING
//	      ranges: [{min: 100, max: 120}]
//	    - severity: CRITICAL
//	      ranges: [{min: 120}]
//	bed_classes:
//	  icu:
//	    heart_rate: [...]
//	patients:
//	  P-1001:
//	    heart_rate: [...]
type policyFile struct {
	Global     map[string][]tierSpec            `yaml:"global"`
	BedClasses map[string]map[string][]tierSpec `yaml:"bed_classes"`
	Patients   map[string]map[string][]tierSpec `yaml:"patients"`
}

type tierSpec struct {
	Severity string  `yaml:"severity"`
	Ranges   []Range `yaml:"ranges"`
}

// LoadFile 从 YAML 文件加载阈值策略集并校验
// 配置非法时返回 ConfigError（快速失败，不猜测级别）
func LoadFile(path string) (*PolicySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Load(data)
}

// Load 从 YAML 内容加载阈值策略集并校验
func Load(data []byte) (*PolicySet, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	set := &PolicySet{
		Global:   RuleSet{},
		BedClass: map[string]RuleSet{},
		Patient:  map[string]RuleSet{},
	}

	var convErr error
	set.Global, convErr = convertRuleSet(file.Global)
	if convErr != nil {
		return nil, convErr
	}
	for class, raw := range file.BedClasses {
		rs, err := convertRuleSet(raw)
		if err != nil {
			return nil, err
		}
		set.BedClass[class] = rs
	}
	for patientID, raw := range file.Patients {
		rs, err := convertRuleSet(raw)
		if err != nil {
			return nil, err
		}
		set.Patient[patientID] = rs
	}

	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

func convertRuleSet(raw map[string][]tierSpec) (RuleSet, error) {
	set := RuleSet{}
	for channel, specs := range raw {
		rule := Rule{Channel: channel}
		for _, spec := range specs {
			sev, err := models.ParseSeverity(spec.Severity)
			if err != nil {
				return nil, &models.ConfigError{Scope: "file", Channel: channel, Reason: err.Error()}
			}
			rule.Tiers = append(rule.Tiers, Tier{Severity: sev, Ranges: spec.Ranges})
		}
		set[channel] = rule
	}
	return set, nil
}

// Default 内置默认策略（来自设备出厂正常范围）
// HR 60-100 bpm，BP 90-140 mmHg，SpO2 ≥95%，RR 12-20 /min，Temp 36.5-37.5 °C
func Default() *PolicySet {
	set := &PolicySet{
		Global: RuleSet{
			models.ChannelHeartRate: {
				Channel: models.ChannelHeartRate,
				Tiers: []Tier{
					{Severity: models.SeverityWarning, Ranges: []Range{{Min: f(40), Max: f(60)}, {Min: f(100), Max: f(130)}}},
					{Severity: models.SeverityCritical, Ranges: []Range{{Max: f(40)}, {Min: f(130)}}},
				},
			},
			models.ChannelBloodPressure: {
				Channel: models.ChannelBloodPressure,
				Tiers: []Tier{
					{Severity: models.SeverityWarning, Ranges: []Range{{Min: f(70), Max: f(90)}, {Min: f(140), Max: f(180)}}},
					{Severity: models.SeverityCritical, Ranges: []Range{{Max: f(70)}, {Min: f(180)}}},
				},
			},
			models.ChannelSpO2: {
				Channel: models.ChannelSpO2,
				Tiers: []Tier{
					{Severity: models.SeverityWarning, Ranges: []Range{{Min: f(90), Max: f(95)}}},
					{Severity: models.SeverityCritical, Ranges: []Range{{Max: f(90)}}},
				},
			},
			models.ChannelRespirationRate: {
				Channel: models.ChannelRespirationRate,
				Tiers: []Tier{
					{Severity: models.SeverityAdvisory, Ranges: []Range{{Min: f(8), Max: f(12)}, {Min: f(20), Max: f(28)}}},
					{Severity: models.SeverityCritical, Ranges: []Range{{Max: f(8)}, {Min: f(28)}}},
				},
			},
			models.ChannelTemperature: {
				Channel: models.ChannelTemperature,
				Tiers: []Tier{
					{Severity: models.SeverityAdvisory, Ranges: []Range{{Min: f(35.0), Max: f(36.5)}, {Min: f(37.5), Max: f(39.0)}}},
					{Severity: models.SeverityWarning, Ranges: []Range{{Max: f(35.0)}, {Min: f(39.0)}}},
				},
			},
		},
		BedClass: map[string]RuleSet{},
		Patient:  map[string]RuleSet{},
	}
	return set
}

func f(v float64) *float64 {
	return &v
}
