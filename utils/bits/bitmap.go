package bits

import mathbits "math/bits"

// Bitmap es un mapa de bits sobre bloques de 64 bits. Un bit en 1 indica que el
// elemento está ocupado. No es seguro para uso concurrente; lo protege su dueño.
type Bitmap struct {
	blocks []uint64
	length int
}

// NewBitmap crea un bitmap de length bits. Si full es true todos arrancan ocupados.
func NewBitmap(length int, full bool) Bitmap {
	blocks := make([]uint64, DivRoundUp(length, 64))
	bitmap := Bitmap{blocks: blocks, length: length}
	if full {
		for i := range blocks {
			blocks[i] = ^uint64(0)
		}
	}
	return bitmap
}

// Len retorna la cantidad de bits del bitmap.
func (b *Bitmap) Len() int {
	return b.length
}

// SizeBytes retorna cuántos bytes ocupa el bitmap.
func (b *Bitmap) SizeBytes() int {
	return DivRoundUp(b.length, 8)
}

// Test indica si el bit index está ocupado. Fuera de rango se considera ocupado.
func (b *Bitmap) Test(index int) bool {
	if index < 0 || index >= b.length {
		return true
	}
	return b.blocks[index/64]&(1<<(uint(index)%64)) != 0
}

// Set marca el bit index como ocupado.
func (b *Bitmap) Set(index int) {
	if index < 0 || index >= b.length {
		return
	}
	b.blocks[index/64] |= 1 << (uint(index) % 64)
}

// Clear marca el bit index como libre.
func (b *Bitmap) Clear(index int) {
	if index < 0 || index >= b.length {
		return
	}
	b.blocks[index/64] &^= 1 << (uint(index) % 64)
}

// FirstClear busca el primer bit libre a partir de from. Retorna -1 si no hay.
func (b *Bitmap) FirstClear(from int) int {
	if from < 0 {
		from = 0
	}
	for block := from / 64; block < len(b.blocks); block++ {
		free := ^b.blocks[block]
		if block == from/64 {
			free &^= (1 << (uint(from) % 64)) - 1
		}
		if free == 0 {
			continue
		}
		index := block*64 + mathbits.TrailingZeros64(free)
		if index >= b.length {
			return -1
		}
		return index
	}
	return -1
}

// FirstClearRun busca la primera corrida de count bits libres consecutivos.
// Retorna -1 si no existe.
func (b *Bitmap) FirstClearRun(count int) int {
	if count <= 0 {
		return -1
	}
	start, run := -1, 0
	for index := 0; index < b.length; index++ {
		if b.Test(index) {
			start, run = -1, 0
			continue
		}
		if start < 0 {
			start = index
		}
		run++
		if run == count {
			return start
		}
	}
	return -1
}

// CountSet retorna la cantidad de bits ocupados.
func (b *Bitmap) CountSet() int {
	total := 0
	for _, block := range b.blocks {
		total += mathbits.OnesCount64(block)
	}
	// Los bits de relleno del último bloque no cuentan.
	if extra := len(b.blocks)*64 - b.length; extra > 0 && len(b.blocks) > 0 {
		padding := b.blocks[len(b.blocks)-1] >> (64 - uint(extra))
		total -= mathbits.OnesCount64(padding)
	}
	return total
}
