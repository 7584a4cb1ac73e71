package broker

import (
	"fmt"

	"tribune/internal/pkg/symbol"
)

// Router 根据标的选择场所：显式映射优先，其次识别加密货币交易对，
// 其余走默认场所。同一输入总是得到同一结果。
type Router struct {
	brokers map[string]Broker
	routes  map[string]string
	def     Broker
	crypto  Broker
}

// NewRouter routes maps symbol -> broker name.
func NewRouter(brokers []Broker, defaultName, cryptoName string, routes map[string]string) (*Router, error) {
	r := &Router{
		brokers: make(map[string]Broker, len(brokers)),
		routes:  make(map[string]string, len(routes)),
	}
	for _, b := range brokers {
		if b == nil {
			continue
		}
		if _, dup := r.brokers[b.Name()]; dup {
			return nil, fmt.Errorf("broker %s registered twice", b.Name())
		}
		r.brokers[b.Name()] = b
	}
	var ok bool
	if r.def, ok = r.brokers[defaultName]; !ok {
		return nil, fmt.Errorf("default broker %q not registered", defaultName)
	}
	if r.crypto, ok = r.brokers[cryptoName]; !ok {
		r.crypto = r.def
	}
	for sym, name := range routes {
		if _, ok := r.brokers[name]; !ok {
			return nil, fmt.Errorf("route %s -> %s: broker not registered", sym, name)
		}
		r.routes[symbol.Key(sym)] = name
	}
	return r, nil
}

func (r *Router) Route(sym string) Broker {
	if name, ok := r.routes[symbol.Key(sym)]; ok {
		return r.brokers[name]
	}
	if symbol.IsCryptoPair(sym) {
		return r.crypto
	}
	return r.def
}

// Get 按名称查找，用于撤单等需要回到原场所的操作。
func (r *Router) Get(name string) (Broker, bool) {
	b, ok := r.brokers[name]
	return b, ok
}

func (r *Router) All() []Broker {
	out := make([]Broker, 0, len(r.brokers))
	for _, b := range r.brokers {
		out = append(out, b)
	}
	return out
}
