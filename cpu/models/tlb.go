package models

// TLBEntry es una traducción cacheada de página virtual a frame.
type TLBEntry struct {
	ASID        uint32
	PageNumber  uint64
	FrameNumber uint64
	Flags       uint64
	LastUsed    int64 //contador para LRU
}

// TLBStats resume el uso de la TLB.
type TLBStats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Flushes   uint64 `json:"flushes"`
	Entries   int    `json:"entries"`
	Capacity  int    `json:"capacity"`
	Algorithm string `json:"algorithm"`
}
