package services

import (
	"fmt"

	"github.com/sisoputnfrba/tp-kosh/memoria/models"
	"github.com/sisoputnfrba/tp-kosh/utils/bits"
)

// SwapAllocator reparte los slots de un dispositivo. La búsqueda empieza en
// nextFreeHint y da la vuelta; al liberar un slot menor la pista retrocede.
type SwapAllocator struct {
	bitmap       bits.Bitmap
	total        int
	used         int
	nextFreeHint int
}

func NewSwapAllocator(slots int) *SwapAllocator {
	return &SwapAllocator{bitmap: bits.NewBitmap(slots, false), total: slots}
}

// AllocateSlot retorna un slot libre o false si el dispositivo está lleno.
func (a *SwapAllocator) AllocateSlot() (models.SwapSlot, bool) {
	if a.used == a.total {
		return 0, false
	}

	index := a.bitmap.FirstClear(a.nextFreeHint)
	if index < 0 {
		index = a.bitmap.FirstClear(0)
	}
	if index < 0 {
		return 0, false
	}

	a.bitmap.Set(index)
	a.used++
	a.nextFreeHint = (index + 1) % a.total
	return models.SwapSlot(index), true
}

// DeallocateSlot libera un slot ocupado.
func (a *SwapAllocator) DeallocateSlot(slot models.SwapSlot) error {
	index := int(slot)
	if index < 0 || index >= a.total {
		return fmt.Errorf("%w: %d", models.ErrInvalidSlot, slot)
	}
	if !a.bitmap.Test(index) {
		return fmt.Errorf("%w: %d", models.ErrSlotNotInUse, slot)
	}

	a.bitmap.Clear(index)
	a.used--
	if index < a.nextFreeHint {
		a.nextFreeHint = index
	}
	return nil
}

func (a *SwapAllocator) IsSlotAllocated(slot models.SwapSlot) bool {
	return int(slot) < a.total && a.bitmap.Test(int(slot))
}

func (a *SwapAllocator) Stats() models.SwapStats {
	return models.SwapStats{TotalSlots: a.total, UsedSlots: a.used, FreeSlots: a.total - a.used}
}
