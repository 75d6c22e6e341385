package engine

import (
	"testing"

	"exchange-connector-go/order"
)

func TestHashGeneratorSequence(t *testing.T) {
	g := NewHashGenerator("acct-1")

	a := g.NextID()
	b := g.NextID()
	if a == b {
		t.Fatalf("consecutive ids must differ: %s", a)
	}
	if len(a) != 2+16 || a[:2] != "0x" {
		t.Fatalf("unexpected id shape: %s", a)
	}

	// 相同种子、相同序列号推导出相同订单号
	g2 := NewHashGenerator("acct-1")
	if got := g2.NextID(); got != a {
		t.Fatalf("same seed should derive same first id: %s vs %s", got, a)
	}
}

func TestHashGeneratorResetChangesDerivation(t *testing.T) {
	g := NewHashGenerator("acct-1")
	g.NextID()
	g.NextID()

	before := NewHashGenerator("acct-1")
	before.NextID()
	before.NextID()
	nextWithoutReset := before.NextID()

	g.Exclusive(func() {
		g.Reset([]order.Order{{ClientOrderID: "c1"}, {ClientOrderID: "c2"}})
	})
	nextWithReset := g.NextID()

	if nextWithReset == nextWithoutReset {
		t.Fatalf("reset must change subsequent derivation")
	}
}
