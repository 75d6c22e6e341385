package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"exchange-connector-go/order"
)

// HashGenerator 为链上结算型交易所预生成订单号。
// 订单号在本地按序列号推导，交易被打包后由链上结果确认；
// 序列一旦与链上脱节（对账发现不一致），必须重置，
// 否则后续订单会继续生成已被占用的号。
type HashGenerator struct {
	mu    sync.Mutex
	seed  string
	epoch uint64
	next  uint64
}

// NewHashGenerator 创建订单号生成器。seed 通常是账户标识。
func NewHashGenerator(seed string) *HashGenerator {
	return &HashGenerator{seed: seed}
}

// NextID 生成下一个预期的交易所订单号。
func (g *HashGenerator) NextID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return g.deriveLocked(g.next)
}

// Exclusive 在生成器的临界区内执行 fn。
// 对账用它保证"失败标记 + 序列重置"不会与新订单取号交错。
// fn 内不得再调用 NextID。
func (g *HashGenerator) Exclusive(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn()
}

// Reset 根据仍然合法在途的订单重置序列。只能在 Exclusive 内调用。
func (g *HashGenerator) Reset(active []order.Order) {
	g.epoch++
	g.next = uint64(len(active))
}

func (g *HashGenerator) deriveLocked(n uint64) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", g.seed, g.epoch, n)))
	return "0x" + hex.EncodeToString(h[:8])
}
