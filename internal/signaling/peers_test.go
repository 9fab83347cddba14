package signaling

import (
	"sync"
	"testing"
)

func TestPeerSet(t *testing.T) {
	p := NewPeerSet()
	a := &fakeSender{}

	p.Attach("conn-a", a)
	if got, ok := p.Get("conn-a"); !ok || got != Sender(a) {
		t.Fatalf("Get = %v, %v", got, ok)
	}
	if p.Len() != 1 {
		t.Fatalf("Len = %d", p.Len())
	}

	p.Detach("conn-a")
	if _, ok := p.Get("conn-a"); ok {
		t.Fatalf("detached peer still present")
	}
}

// Each must tolerate callbacks that mutate the set.
func TestPeerSet_EachAllowsDetach(t *testing.T) {
	p := NewPeerSet()
	p.Attach("conn-a", &fakeSender{})
	p.Attach("conn-b", &fakeSender{})

	seen := 0
	p.Each(func(connectionID string, s Sender) {
		seen++
		p.Detach(connectionID)
	})
	if seen != 2 {
		t.Fatalf("seen = %d", seen)
	}
	if p.Len() != 0 {
		t.Fatalf("Len = %d after detaching all", p.Len())
	}
}

func TestPeerSet_ConcurrentAttachDetach(t *testing.T) {
	p := NewPeerSet()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%26))
			p.Attach(id, &fakeSender{})
			p.Each(func(string, Sender) {})
			p.Detach(id)
		}(i)
	}
	wg.Wait()
}
