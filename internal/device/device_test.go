package device

import (
	"net"
	"sync"
	"testing"
)

type fakeNet struct{ name string }

func (f *fakeNet) Name() string { return f.name }
func (f *fakeNet) HandleIRQ(uint32) {}
func (f *fakeNet) MACAddress() net.HardwareAddr { return nil }
func (f *fakeNet) LinkUp() bool { return false }

func TestDeviceAccessors(t *testing.T) {
	n := &fakeNet{name: "eth0"}
	d := NewNet(n)

	if d.Kind() != KindNet {
		t.Fatalf("Kind = %v", d.Kind())
	}
	if _, ok := d.Irq(); ok {
		t.Fatal("net device reported as irq")
	}
	got, ok := d.Net()
	if !ok || got != n {
		t.Fatalf("Net() = %v, %v", got, ok)
	}
	if d.Inner() != Scheme(n) {
		t.Fatal("Inner does not share the handle")
	}
	if s := d.String(); s != "net(eth0)" {
		t.Fatalf("String = %q", s)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := NewNet(&fakeNet{name: "a"})
	b := NewNet(&fakeNet{name: "b"})
	r.Add(a, b)

	if r.Len() != 2 {
		t.Fatalf("Len = %d", r.Len())
	}
	first, ok := r.First(KindNet)
	if !ok || first.Inner().Name() != "a" {
		t.Fatalf("First = %v, %v", first, ok)
	}
	if _, ok := r.First(KindBlock); ok {
		t.Fatal("unexpected block device")
	}
	if got := r.OfKind(KindNet); len(got) != 2 {
		t.Fatalf("OfKind = %d devices", len(got))
	}
}

func TestEventListenerOnce(t *testing.T) {
	var l EventListener
	var mu sync.Mutex
	calls := map[string]int{}
	l.Subscribe(func() { mu.Lock(); calls["once"]++; mu.Unlock() }, true)
	l.Subscribe(func() { mu.Lock(); calls["always"]++; mu.Unlock() }, false)

	l.Trigger()
	l.Trigger()

	if calls["once"] != 1 {
		t.Fatalf("once subscriber ran %d times", calls["once"])
	}
	if calls["always"] != 2 {
		t.Fatalf("persistent subscriber ran %d times", calls["always"])
	}
}
