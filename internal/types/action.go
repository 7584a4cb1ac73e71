package types

import "strings"

// Action 是信号与共识决策的方向。
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ParseAction 归一化大小写与常见别名，无法识别时返回空字符串。
func ParseAction(raw string) Action {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "LONG", "OPEN_LONG":
		return ActionBuy
	case "SELL", "SHORT", "CLOSE_LONG":
		return ActionSell
	case "HOLD", "WAIT", "NONE":
		return ActionHold
	default:
		return ""
	}
}

func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold:
		return true
	default:
		return false
	}
}

// Tradable reports whether the action results in an order.
func (a Action) Tradable() bool {
	return a == ActionBuy || a == ActionSell
}

func (a Action) String() string { return string(a) }
