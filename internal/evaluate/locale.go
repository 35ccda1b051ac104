package evaluate

import (
	"fmt"
	"strings"

	"kestrel/internal/rule"
)

// Languages lists every display language expression and current-value
// strings are built for. Adding a language means adding entries here only.
var Languages = []string{"en", "zh-TW"}

const DefaultLanguage = "en"

// conditionJoiner is the separator between condition fragments inside one
// trigger group.
func conditionJoiner(lang string, op rule.LogicOperator) string {
	return triggerJoiner(lang, op)
}

// triggerJoiner is the separator between trigger groups.
func triggerJoiner(lang string, op rule.LogicOperator) string {
	switch lang {
	case "zh-TW":
		if op == rule.LogicOr {
			return " 或 "
		}
		return " 且 "
	default:
		if op == rule.LogicOr {
			return " OR "
		}
		return " AND "
	}
}

var comparatorWordsZh = map[rule.Operator]string{
	rule.OpGreater:        "大於",
	rule.OpGreaterOrEqual: "大於等於",
	rule.OpLess:           "小於",
	rule.OpLessOrEqual:    "小於等於",
	rule.OpEqual:          "等於",
	rule.OpNotEqual:       "不等於",
}

var comparatorSymbols = map[rule.Operator]string{
	rule.OpGreater:        ">",
	rule.OpGreaterOrEqual: ">=",
	rule.OpLess:           "<",
	rule.OpLessOrEqual:    "<=",
	rule.OpEqual:          "=",
	rule.OpNotEqual:       "!=",
}

// expressionFragment renders one condition as a human-readable phrase, e.g.
// "lamp02 brightnessPercent > 60 %".
func expressionFragment(lang, deviceName, sensorLabel string, op rule.Operator, value, unit string) string {
	var phrase string
	switch lang {
	case "zh-TW":
		phrase = operatorPhraseZh(op, value, unit)
	default:
		phrase = operatorPhraseEn(op, value, unit)
	}
	return fmt.Sprintf("%s %s %s", deviceName, sensorLabel, phrase)
}

func operatorPhraseEn(op rule.Operator, value, unit string) string {
	switch op {
	case rule.OpBetween:
		low, high := splitPair(value)
		return appendUnit(fmt.Sprintf("between %s and %s", low, high), unit)
	case rule.OpContains:
		return fmt.Sprintf("contains %s", value)
	case rule.OpIsOneOf:
		return fmt.Sprintf("is one of %s", value)
	case rule.OpUpdatedWithin:
		return fmt.Sprintf("updated within %ss", value)
	default:
		return appendUnit(fmt.Sprintf("%s %s", comparatorSymbols[op], value), unit)
	}
}

func operatorPhraseZh(op rule.Operator, value, unit string) string {
	switch op {
	case rule.OpBetween:
		low, high := splitPair(value)
		return appendUnit(fmt.Sprintf("介於 %s 和 %s 之間", low, high), unit)
	case rule.OpContains:
		return fmt.Sprintf("包含 %s", value)
	case rule.OpIsOneOf:
		return fmt.Sprintf("為 %s 其中之一", value)
	case rule.OpUpdatedWithin:
		return fmt.Sprintf("%s 秒內有更新", value)
	default:
		return appendUnit(fmt.Sprintf("%s %s", comparatorWordsZh[op], value), unit)
	}
}

// currentValueFragment renders the observed value of one condition, e.g.
// "lamp02 brightnessPercent = 70 %".
func currentValueFragment(lang, deviceName, sensorLabel, value, unit string) string {
	return fmt.Sprintf("%s %s = %s", deviceName, sensorLabel, appendUnit(value, unit))
}

func appendUnit(s, unit string) string {
	if unit == "" {
		return s
	}
	return s + " " + unit
}

func splitPair(value string) (string, string) {
	parts := strings.SplitN(value, ",", 2)
	if len(parts) != 2 {
		return value, ""
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}
