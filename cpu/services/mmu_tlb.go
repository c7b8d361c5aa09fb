package services

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/sisoputnfrba/tp-kosh/cpu/models"
)

// TLB cachea traducciones por espacio de direcciones (ASID). Con capacidad 0
// queda desactivada y todas las búsquedas fallan.
type TLB struct {
	mu        sync.Mutex
	entries   []models.TLBEntry
	maxSize   int
	algorithm string // "FIFO" o "LRU"
	counter   int64  // para LRU, contador incremental
	stats     models.TLBStats
}

// NewTLB crea una TLB de maxSize entradas con reemplazo FIFO o LRU.
// Un algoritmo desconocido se reemplaza por LRU.
func NewTLB(maxSize int, algorithm string) *TLB {
	if algorithm != "FIFO" && algorithm != "LRU" {
		slog.Warn(fmt.Sprintf("Algoritmo de TLB %q desconocido, se usa LRU", algorithm))
		algorithm = "LRU"
	}
	if maxSize < 0 {
		maxSize = 0
	}
	return &TLB{
		entries:   make([]models.TLBEntry, 0, maxSize),
		maxSize:   maxSize,
		algorithm: algorithm,
	}
}

// Lookup busca la traducción de la página. Retorna frame y flags de la entrada.
func (t *TLB) Lookup(asid uint32, pageNumber uint64) (uint64, uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		if t.entries[i].ASID == asid && t.entries[i].PageNumber == pageNumber {
			if t.algorithm == "LRU" {
				t.counter++
				t.entries[i].LastUsed = t.counter
			}
			t.stats.Hits++
			slog.Debug(fmt.Sprintf("ASID: %d - TLB HIT - Pagina: %d", asid, pageNumber))
			return t.entries[i].FrameNumber, t.entries[i].Flags, true
		}
	}

	t.stats.Misses++
	slog.Debug(fmt.Sprintf("ASID: %d - TLB MISS - Pagina: %d", asid, pageNumber))
	return 0, 0, false
}

// Insert agrega una traducción reemplazando una víctima si la TLB está llena.
func (t *TLB) Insert(asid uint32, pageNumber, frame, flags uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.maxSize == 0 {
		return
	}

	t.counter++
	entry := models.TLBEntry{
		ASID:        asid,
		PageNumber:  pageNumber,
		FrameNumber: frame,
		Flags:       flags,
		LastUsed:    t.counter,
	}

	for i := range t.entries {
		if t.entries[i].ASID == asid && t.entries[i].PageNumber == pageNumber {
			t.entries[i] = entry
			return
		}
	}

	if len(t.entries) < t.maxSize {
		t.entries = append(t.entries, entry)
		return
	}

	victimIndex := 0
	if t.algorithm == "FIFO" {
		// Las entradas están en orden de llegada.
		t.entries = append(t.entries[1:], entry)
		return
	}
	for i, e := range t.entries {
		if e.LastUsed < t.entries[victimIndex].LastUsed {
			victimIndex = i
		}
	}
	slog.Debug(fmt.Sprintf("TLB reemplazo: ASID %d - Página %d por ASID %d - Página %d",
		t.entries[victimIndex].ASID, t.entries[victimIndex].PageNumber, asid, pageNumber))
	t.entries[victimIndex] = entry
}

// Flush invalida la traducción de una página (equivalente a invlpg).
func (t *TLB) Flush(asid uint32, pageNumber uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Flushes++
	t.removeWhere(func(e models.TLBEntry) bool {
		return e.ASID == asid && e.PageNumber == pageNumber
	})
}

// FlushAddressSpace invalida todas las traducciones de un espacio de direcciones.
func (t *TLB) FlushAddressSpace(asid uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Flushes++
	t.removeWhere(func(e models.TLBEntry) bool { return e.ASID == asid })
}

// FlushAll vacía la TLB.
func (t *TLB) FlushAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Flushes++
	t.entries = t.entries[:0]
}

// Stats retorna los contadores de la TLB.
func (t *TLB) Stats() models.TLBStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := t.stats
	stats.Entries = len(t.entries)
	stats.Capacity = t.maxSize
	stats.Algorithm = t.algorithm
	return stats
}

func (t *TLB) removeWhere(match func(models.TLBEntry) bool) {
	filtered := t.entries[:0]
	for _, entry := range t.entries {
		if !match(entry) {
			filtered = append(filtered, entry)
		}
	}
	t.entries = filtered
}
