package symbol

import "strings"

// Venue 场所侧的符号格式：交易对以 Sep 连接 base 与 quote，股票代码原样大写。
type Venue struct {
	Sep string
}

var (
	// Plain 用于股票类 REST 券商，交易对保持 BASE/QUOTE。
	Plain   = Venue{Sep: "/"}
	Binance = Venue{}
	// Gate 合约名形如 BTC_USDT。
	Gate = Venue{Sep: "_"}
)

func (v Venue) ToExchange(internal string) string {
	if pair := Parse(internal).Join(v.Sep); pair != "" {
		return pair
	}
	return strings.ReplaceAll(clean(internal), "/", v.Sep)
}

// FromExchange 还原为 Key 形式；无分隔符的场所靠报价币后缀识别。
func (v Venue) FromExchange(raw string) string {
	s := clean(raw)
	if v.Sep != "" {
		if base, quote, ok := strings.Cut(s, v.Sep); ok && base != "" && quote != "" {
			return base + "/" + quote
		}
	}
	return Key(s)
}
