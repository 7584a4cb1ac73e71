package symbol

import (
	"strings"
	"sync"
)

type Symbol struct {
	Base  string
	Quote string
}

// Internal 内部统一形式 BASE/QUOTE；不是交易对时为空。
func (s Symbol) Internal() string { return s.Join("/") }

// Join 用 sep 拼接 base 与 quote，例如 Binance 的 "" 或 Gate 的 "_"。
func (s Symbol) Join(sep string) string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + sep + s.Quote
}

// quoteCurrencies 按长度优先，避免 USDT 被 USD 后缀截断。
var quoteCurrencies = []string{"FDUSD", "USDT", "BUSD", "USDC", "TUSD", "USD", "EUR", "BTC", "ETH", "BNB"}

// pairSeparators 显式交易对分隔符；右侧必须是已知报价币，BRK-B、BRK/B 这类股票代码不会误判。
const pairSeparators = "/-_"

var (
	basesMu sync.RWMutex
	// bases 无分隔符写法（BTCUSDT）只在 base 已知时才拆分，避免 SETH、BETH 这类股票代码被当成交易对。
	bases = map[string]struct{}{}
)

func init() {
	RegisterBases("BTC", "ETH", "SOL", "BNB", "XRP", "ADA", "DOGE", "DOT", "AVAX", "MATIC", "POL",
		"LTC", "LINK", "TRX", "BCH", "ATOM", "UNI", "XLM", "ETC", "FIL", "NEAR", "APT", "ARB", "OP",
		"SHIB", "PEPE", "TON", "SUI")
}

// RegisterBases 追加可识别的加密资产代码（例如配置里的 market.crypto_bases）。
func RegisterBases(codes ...string) {
	basesMu.Lock()
	defer basesMu.Unlock()
	for _, c := range codes {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			bases[c] = struct{}{}
		}
	}
}

func knownBase(code string) bool {
	basesMu.RLock()
	defer basesMu.RUnlock()
	_, ok := bases[code]
	return ok
}

func isQuote(code string) bool {
	for _, q := range quoteCurrencies {
		if code == q {
			return true
		}
	}
	return false
}

// Parse 只识别加密货币交易对；股票代码返回零值。
// 识别两种写法：BASE/QUOTE、BASE-QUOTE、BASE_QUOTE（QUOTE 须为已知报价币），
// 以及 BASEQUOTE（BASE 须为已知加密资产）。
func Parse(s string) Symbol {
	s = clean(s)
	if s == "" {
		return Symbol{}
	}

	if i := strings.IndexAny(s, pairSeparators); i >= 0 {
		base, quote := strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])
		if base == "" || !isQuote(quote) {
			return Symbol{}
		}
		return Symbol{Base: base, Quote: quote}
	}

	for _, quote := range quoteCurrencies {
		if !strings.HasSuffix(s, quote) || len(s) <= len(quote) {
			continue
		}
		if base := s[:len(s)-len(quote)]; knownBase(base) {
			return Symbol{Base: base, Quote: quote}
		}
	}
	return Symbol{}
}

func clean(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	return s
}

// Key 返回用于 map 查找的规范形式：交易对为 BASE/QUOTE，其余为大写代码。
func Key(s string) string {
	if norm := Parse(s).Internal(); norm != "" {
		return norm
	}
	return clean(s)
}

// IsCryptoPair reports whether the symbol names a crypto trading pair.
func IsCryptoPair(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}

func KeyList(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		key := Key(s)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
