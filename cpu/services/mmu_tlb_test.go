package services

import (
	"testing"
)

func TestTLB_HitAndMiss(t *testing.T) {
	tlb := NewTLB(4, "LRU")

	if _, _, found := tlb.Lookup(1, 10); found {
		t.Errorf("Expected miss on empty TLB")
	}

	tlb.Insert(1, 10, 300, 0x3)
	frame, flags, found := tlb.Lookup(1, 10)
	if !found || frame != 300 || flags != 0x3 {
		t.Errorf("Expected hit with frame 300, got %d (found=%v)", frame, found)
	}

	if _, _, found := tlb.Lookup(2, 10); found {
		t.Errorf("Expected miss for another address space")
	}

	stats := tlb.Stats()
	if stats.Hits != 1 || stats.Misses != 2 {
		t.Errorf("Expected 1 hit and 2 misses, got %+v", stats)
	}
}

func TestTLB_LRUReplacement(t *testing.T) {
	tlb := NewTLB(2, "LRU")

	tlb.Insert(1, 1, 11, 0)
	tlb.Insert(1, 2, 12, 0)
	tlb.Lookup(1, 1)
	tlb.Insert(1, 3, 13, 0)

	if _, _, found := tlb.Lookup(1, 2); found {
		t.Errorf("Expected page 2 to be evicted")
	}
	if _, _, found := tlb.Lookup(1, 1); !found {
		t.Errorf("Expected page 1 to stay")
	}
}

func TestTLB_FIFOReplacement(t *testing.T) {
	tlb := NewTLB(2, "FIFO")

	tlb.Insert(1, 1, 11, 0)
	tlb.Insert(1, 2, 12, 0)
	tlb.Lookup(1, 1)
	tlb.Insert(1, 3, 13, 0)

	if _, _, found := tlb.Lookup(1, 1); found {
		t.Errorf("Expected page 1 to be evicted")
	}
	if _, _, found := tlb.Lookup(1, 3); !found {
		t.Errorf("Expected page 3 to be present")
	}
}

func TestTLB_Flush(t *testing.T) {
	tlb := NewTLB(8, "LRU")
	tlb.Insert(1, 1, 11, 0)
	tlb.Insert(1, 2, 12, 0)
	tlb.Insert(2, 1, 21, 0)

	tlb.Flush(1, 1)
	if _, _, found := tlb.Lookup(1, 1); found {
		t.Errorf("Expected flushed entry to miss")
	}

	tlb.FlushAddressSpace(1)
	if _, _, found := tlb.Lookup(1, 2); found {
		t.Errorf("Expected address space entries to be flushed")
	}
	if _, _, found := tlb.Lookup(2, 1); !found {
		t.Errorf("Expected other address space to keep its entries")
	}

	tlb.FlushAll()
	if tlb.Stats().Entries != 0 {
		t.Errorf("Expected empty TLB after FlushAll")
	}
}

func TestTLB_Disabled(t *testing.T) {
	tlb := NewTLB(0, "FIFO")
	tlb.Insert(1, 1, 11, 0)

	if _, _, found := tlb.Lookup(1, 1); found {
		t.Errorf("Expected disabled TLB to always miss")
	}
}
