package market

import "time"

// ClosedGrace 交易所聚合 K 线存在延迟，收盘后再等一小段才视为定稿。
const ClosedGrace = 10 * time.Second

type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

type Candles []Candle

// Closes 按时间顺序返回收盘价序列。
func (cs Candles) Closes() []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

func (cs Candles) Last() (Candle, bool) {
	if len(cs) == 0 {
		return Candle{}, false
	}
	return cs[len(cs)-1], true
}

// Settled 去掉尚未收盘的最后一根；CloseTime 缺失时原样返回。
func (cs Candles) Settled(now time.Time) Candles {
	last, ok := cs.Last()
	if !ok || last.CloseTime <= 0 {
		return cs
	}
	if now.UnixMilli() < last.CloseTime+ClosedGrace.Milliseconds() {
		return cs[:len(cs)-1]
	}
	return cs
}
