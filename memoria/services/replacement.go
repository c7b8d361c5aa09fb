package services

import (
	"slices"

	"github.com/sisoputnfrba/tp-kosh/memoria/models"
)

// Replacer elige qué página residente desalojar. Victim no quita la página:
// se quita con Remove una vez que el desalojo tuvo éxito. Peek retorna la misma
// víctima que Victim sin modificar el estado del algoritmo.
type Replacer interface {
	Access(frame models.PageFrame)
	Victim() (models.PageFrame, bool)
	Peek() (models.PageFrame, bool)
	Remove(frame models.PageFrame) bool
	Len() int
}

const nilNode int32 = -1

type lruNode struct {
	frame      models.PageFrame
	prev, next int32
}

// LRUReplacer mantiene las páginas en una lista doble enlazada por índices dentro
// de un arreglo de nodos: la cabeza es la más reciente y la cola la víctima.
type LRUReplacer struct {
	nodes []lruNode
	free  []int32
	index map[models.PageFrame]int32
	head  int32
	tail  int32
}

func NewLRUReplacer() *LRUReplacer {
	return &LRUReplacer{index: make(map[models.PageFrame]int32), head: nilNode, tail: nilNode}
}

// Access mueve la página al frente, agregándola si no estaba.
func (r *LRUReplacer) Access(frame models.PageFrame) {
	if node, ok := r.index[frame]; ok {
		r.detach(node)
		r.pushFront(node)
		return
	}

	var node int32
	if n := len(r.free); n > 0 {
		node = r.free[n-1]
		r.free = r.free[:n-1]
		r.nodes[node] = lruNode{frame: frame}
	} else {
		node = int32(len(r.nodes))
		r.nodes = append(r.nodes, lruNode{frame: frame})
	}
	r.index[frame] = node
	r.pushFront(node)
}

func (r *LRUReplacer) Victim() (models.PageFrame, bool) {
	if r.tail == nilNode {
		return 0, false
	}
	return r.nodes[r.tail].frame, true
}

func (r *LRUReplacer) Peek() (models.PageFrame, bool) {
	return r.Victim()
}

func (r *LRUReplacer) Remove(frame models.PageFrame) bool {
	node, ok := r.index[frame]
	if !ok {
		return false
	}
	r.detach(node)
	delete(r.index, frame)
	r.free = append(r.free, node)
	return true
}

func (r *LRUReplacer) Len() int {
	return len(r.index)
}

// Frames retorna las páginas de la más reciente a la menos reciente.
func (r *LRUReplacer) Frames() []models.PageFrame {
	frames := make([]models.PageFrame, 0, len(r.index))
	for node := r.head; node != nilNode; node = r.nodes[node].next {
		frames = append(frames, r.nodes[node].frame)
	}
	return frames
}

func (r *LRUReplacer) pushFront(node int32) {
	r.nodes[node].prev = nilNode
	r.nodes[node].next = r.head
	if r.head != nilNode {
		r.nodes[r.head].prev = node
	}
	r.head = node
	if r.tail == nilNode {
		r.tail = node
	}
}

func (r *LRUReplacer) detach(node int32) {
	prev, next := r.nodes[node].prev, r.nodes[node].next
	if prev != nilNode {
		r.nodes[prev].next = next
	} else {
		r.head = next
	}
	if next != nilNode {
		r.nodes[next].prev = prev
	} else {
		r.tail = prev
	}
	r.nodes[node].prev, r.nodes[node].next = nilNode, nilNode
}

// FIFOReplacer desaloja en orden de llegada; los accesos posteriores no cambian el orden.
type FIFOReplacer struct {
	queue   []models.PageFrame
	present map[models.PageFrame]struct{}
}

func NewFIFOReplacer() *FIFOReplacer {
	return &FIFOReplacer{present: make(map[models.PageFrame]struct{})}
}

func (r *FIFOReplacer) Access(frame models.PageFrame) {
	if _, ok := r.present[frame]; ok {
		return
	}
	r.present[frame] = struct{}{}
	r.queue = append(r.queue, frame)
}

func (r *FIFOReplacer) Victim() (models.PageFrame, bool) {
	if len(r.queue) == 0 {
		return 0, false
	}
	return r.queue[0], true
}

func (r *FIFOReplacer) Peek() (models.PageFrame, bool) {
	return r.Victim()
}

func (r *FIFOReplacer) Remove(frame models.PageFrame) bool {
	if _, ok := r.present[frame]; !ok {
		return false
	}
	delete(r.present, frame)
	r.queue = slices.DeleteFunc(r.queue, func(f models.PageFrame) bool { return f == frame })
	return true
}

func (r *FIFOReplacer) Len() int {
	return len(r.queue)
}

type clockEntry struct {
	frame      models.PageFrame
	referenced bool
}

// ClockReplacer es el algoritmo de segunda oportunidad sobre un buffer circular.
type ClockReplacer struct {
	entries []clockEntry
	hand    int
}

func NewClockReplacer() *ClockReplacer {
	return &ClockReplacer{}
}

// Access marca el bit de referencia, agregando la página si no estaba.
func (r *ClockReplacer) Access(frame models.PageFrame) {
	if i := r.find(frame); i >= 0 {
		r.entries[i].referenced = true
		return
	}
	r.entries = append(r.entries, clockEntry{frame: frame, referenced: true})
}

// Victim avanza la aguja limpiando bits de referencia hasta encontrar una página
// sin referenciar. Como mucho da dos vueltas.
func (r *ClockReplacer) Victim() (models.PageFrame, bool) {
	n := len(r.entries)
	if n == 0 {
		return 0, false
	}
	for step := 0; step < 2*n; step++ {
		entry := &r.entries[r.hand]
		if !entry.referenced {
			victim := entry.frame
			r.hand = (r.hand + 1) % n
			return victim, true
		}
		entry.referenced = false
		r.hand = (r.hand + 1) % n
	}
	return r.entries[r.hand].frame, true
}

// Peek busca desde la aguja la primera página sin referenciar. Si todas están
// referenciadas Victim daría una vuelta completa y elegiría la de la aguja.
func (r *ClockReplacer) Peek() (models.PageFrame, bool) {
	n := len(r.entries)
	if n == 0 {
		return 0, false
	}
	for step := 0; step < n; step++ {
		if entry := r.entries[(r.hand+step)%n]; !entry.referenced {
			return entry.frame, true
		}
	}
	return r.entries[r.hand].frame, true
}

func (r *ClockReplacer) Remove(frame models.PageFrame) bool {
	i := r.find(frame)
	if i < 0 {
		return false
	}
	r.entries = slices.Delete(r.entries, i, i+1)
	if i < r.hand {
		r.hand--
	}
	if r.hand >= len(r.entries) {
		r.hand = 0
	}
	return true
}

func (r *ClockReplacer) Len() int {
	return len(r.entries)
}

func (r *ClockReplacer) find(frame models.PageFrame) int {
	return slices.IndexFunc(r.entries, func(e clockEntry) bool { return e.frame == frame })
}

// LFUReplacer elige la página con menos accesos; a igualdad la de acceso más
// antiguo y después el frame menor. Lee los contadores del page swapper.
type LFUReplacer struct {
	info map[models.PageFrame]*models.PageAccessInfo
}

func NewLFUReplacer(info map[models.PageFrame]*models.PageAccessInfo) *LFUReplacer {
	return &LFUReplacer{info: info}
}

func (r *LFUReplacer) Access(models.PageFrame) {}

func (r *LFUReplacer) Victim() (models.PageFrame, bool) {
	var best *models.PageAccessInfo
	for _, candidate := range r.info {
		if best == nil || lfuLess(candidate, best) {
			best = candidate
		}
	}
	if best == nil {
		return 0, false
	}
	return best.Frame, true
}

func (r *LFUReplacer) Peek() (models.PageFrame, bool) {
	return r.Victim()
}

func lfuLess(a, b *models.PageAccessInfo) bool {
	if a.AccessCount != b.AccessCount {
		return a.AccessCount < b.AccessCount
	}
	if a.LastAccess != b.LastAccess {
		return a.LastAccess < b.LastAccess
	}
	return a.Frame < b.Frame
}

func (r *LFUReplacer) Remove(frame models.PageFrame) bool {
	_, ok := r.info[frame]
	return ok
}

func (r *LFUReplacer) Len() int {
	return len(r.info)
}
