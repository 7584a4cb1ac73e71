package app

import (
	"fmt"
	"sort"
	"strings"

	"tribune/internal/config"
)

type StartupSummary struct {
	Env             string
	HTTPAddr        string
	Sources         []string
	Brokers         []string
	DefaultBroker   string
	CryptoBroker    string
	Routes          map[string]string
	PriceFeeds      []string
	Scheduler       SchedulerSummary
	Tunables        config.Tunables
	RecoveredOrders int
	OpenPositions   int
	MetricsEnabled  bool
}

type SchedulerSummary struct {
	Enabled  bool
	Symbols  []string
	Interval string
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[运行环境 (RUNTIME)]")
	fmt.Printf("  环境: %s\n", orDash(s.Env))
	fmt.Printf("  HTTP: %s\n", orDash(s.HTTPAddr))
	fmt.Printf("  Metrics: %v\n", s.MetricsEnabled)
	fmt.Println()

	fmt.Println("[信号源 (SOURCES)]")
	fmt.Printf("  已注册: %s\n", formatList(s.Sources))
	fmt.Printf("  共识阈值: %.2f  单源超时: %s\n", s.Tunables.ConsensusThreshold, s.Tunables.SourceTimeout)
	fmt.Println()

	fmt.Println("[券商路由 (BROKERS)]")
	fmt.Printf("  场所: %s\n", formatList(s.Brokers))
	fmt.Printf("  默认: %s  加密: %s\n", orDash(s.DefaultBroker), orDash(s.CryptoBroker))
	if len(s.Routes) > 0 {
		syms := make([]string, 0, len(s.Routes))
		for sym := range s.Routes {
			syms = append(syms, sym)
		}
		sort.Strings(syms)
		for _, sym := range syms {
			fmt.Printf("    %s -> %s\n", sym, s.Routes[sym])
		}
	}
	fmt.Printf("  报价源: %s\n", formatList(s.PriceFeeds))
	fmt.Printf("  恢复订单: %d  持仓: %d\n", s.RecoveredOrders, s.OpenPositions)
	fmt.Println()

	fmt.Println("[风控与合规 (RISK & COMPLIANCE)]")
	t := s.Tunables
	fmt.Printf("  单笔风险: %.2f%%  单仓上限: %.2f%%  行业上限: %.2f%%  总敞口: %.2f%%\n",
		t.RiskPerTrade*100, t.MaxPositionSize*100, t.MaxSectorExposure*100, t.MaxAggregateExposure*100)
	fmt.Printf("  PDT: %d 次 / %s, 最低权益 $%.0f\n", t.PDTDayTradeLimit, t.PDTWindow, t.PDTMinEquity)
	fmt.Printf("  限制名单: %d 个\n", len(t.Restricted))
	fmt.Println()

	fmt.Println("[定时任务 (SCHEDULER)]")
	if !s.Scheduler.Enabled {
		fmt.Println("  (未启用)")
	} else {
		fmt.Printf("  周期: %s\n", s.Scheduler.Interval)
		fmt.Printf("  标的: %s\n", formatList(s.Scheduler.Symbols))
	}
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
