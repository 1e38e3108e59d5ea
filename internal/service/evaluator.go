package service

import (
	"math"
	"strings"

	"alertflow/internal/consts"
	"alertflow/internal/model"
)

// 条件求值：纯函数，不访问存储，错误一律视为不满足

// EvaluateRule 按规则的逻辑运算符组合各条件的求值结果。
// 条件列表为空时返回 false（不该出现，创建时已校验）
func EvaluateRule(rule *model.AlertRule, snap *model.MarketSnapshot) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	if rule.LogicalOperator == model.LogicalOr {
		for _, c := range rule.Conditions {
			if evaluateCondition(&c, snap) {
				return true
			}
		}
		return false
	}
	// 缺省 AND
	for _, c := range rule.Conditions {
		if !evaluateCondition(&c, snap) {
			return false
		}
	}
	return true
}

// evaluateCondition 单条件求值，指标缺失返回 false
func evaluateCondition(c *model.AlertCondition, snap *model.MarketSnapshot) bool {
	metric, ok := extractMetric(c.Type, snap)
	if !ok {
		return false
	}

	switch c.Operator {
	case model.OpGreaterThan:
		return metric > c.Value
	case model.OpLessThan:
		return metric < c.Value
	case model.OpEquals:
		return math.Abs(metric-c.Value) < consts.FloatTolerance
	case model.OpNotEquals:
		return math.Abs(metric-c.Value) >= consts.FloatTolerance
	case model.OpBetween:
		if c.SecondValue == nil {
			return false
		}
		return metric >= c.Value && metric <= *c.SecondValue
	case model.OpOutsideRange:
		if c.SecondValue == nil {
			return false
		}
		return metric < c.Value || metric > *c.SecondValue
	default:
		return false
	}
}

// extractMetric 从快照取条件对应的指标读数
func extractMetric(t model.ConditionType, snap *model.MarketSnapshot) (float64, bool) {
	switch t {
	case model.CondPriceAbove, model.CondPriceBelow:
		return snap.Price, true
	case model.CondPriceChangePercent:
		return snap.ChangePercent, true
	case model.CondVolumeAbove, model.CondVolumeBelow:
		return snap.Volume, true
	case model.CondMarketCapAbove, model.CondMarketCapBelow:
		return snap.MarketCap, true
	case model.CondRSIAbove, model.CondRSIBelow:
		if v, ok := snap.Indicators["rsi"]; ok {
			return v, true
		}
		// 指标未算出时取中性值
		return consts.DefaultRSI, true
	default:
		// 未知的自定义指标，按名字查 indicators
		if v, ok := snap.Indicators[strings.ToLower(string(t))]; ok {
			return v, true
		}
		return 0, false
	}
}
