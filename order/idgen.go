package order

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// IDGenerator 生成进程内唯一的客户端订单号。
// 时间戳保证跨进程区分，序号保证同一纳秒内的唯一性。
type IDGenerator struct {
	prefix string
	seq    atomic.Uint64
}

// NewIDGenerator 创建客户端订单号生成器。
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "ord"
	}
	return &IDGenerator{prefix: prefix}
}

// Next 生成下一个客户端订单号。
func (g *IDGenerator) Next(side Side, tradingPair string) string {
	marker := "B"
	if side == SideSell {
		marker = "S"
	}
	pair := strings.ReplaceAll(tradingPair, "-", "")
	ts := time.Now().UTC().Format("20060102150405.000000000")
	return fmt.Sprintf("%s-%s%s-%s-%d", g.prefix, marker, pair, ts, g.seq.Add(1))
}
