package services

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/sisoputnfrba/tp-kosh/memoria/models"
	"golang.org/x/exp/maps"
)

type swapLocation struct {
	device int
	slot   models.SwapSlot
}

// SwapManager administra los dispositivos activos y la relación página↔slot.
// Una página está en a lo sumo un slot y un slot guarda a lo sumo una página.
// Las páginas se guardan por frame; Detach las pasa a un SwapEntry para que el
// frame pueda liberarse.
type SwapManager struct {
	mu         sync.Mutex
	devices    []*SwapDevice
	allocators []*SwapAllocator
	pageToSwap map[models.PageFrame]swapLocation
	swapToPage map[swapLocation]models.PageFrame
	entries    map[models.SwapEntry]swapLocation
	nextEntry  models.SwapEntry
}

func NewSwapManager() *SwapManager {
	return &SwapManager{
		pageToSwap: make(map[models.PageFrame]swapLocation),
		swapToPage: make(map[swapLocation]models.PageFrame),
		entries:    make(map[models.SwapEntry]swapLocation),
		nextEntry:  1,
	}
}

// AddDevice activa un dispositivo y retorna su índice.
func (m *SwapManager) AddDevice(device *SwapDevice) (int, error) {
	if !device.IsAvailable() {
		return 0, fmt.Errorf("%w: %s", models.ErrDeviceUnavailable, device.Name())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.devices = append(m.devices, device)
	m.allocators = append(m.allocators, NewSwapAllocator(device.SlotCount()))

	index := len(m.devices) - 1
	slog.Info(fmt.Sprintf("## Dispositivo de swap agregado: %s (%s) - Slots: %d", device.Name(), device.Kind(), device.SlotCount()),
		"indice", index)
	return index, nil
}

// RemoveDevice desactiva el dispositivo index. Falla si todavía guarda páginas.
// Los índices posteriores se corren uno hacia abajo.
func (m *SwapManager) RemoveDevice(index int) (*SwapDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.devices) {
		return nil, fmt.Errorf("%w: dispositivo %d", models.ErrInvalidSlot, index)
	}
	if used := m.allocators[index].Stats().UsedSlots; used > 0 {
		return nil, fmt.Errorf("%w: el dispositivo %s tiene %d páginas", models.ErrSlotInUse, m.devices[index].Name(), used)
	}

	device := m.devices[index]
	m.devices = slices.Delete(m.devices, index, index+1)
	m.allocators = slices.Delete(m.allocators, index, index+1)

	pageToSwap := make(map[models.PageFrame]swapLocation, len(m.pageToSwap))
	swapToPage := make(map[swapLocation]models.PageFrame, len(m.swapToPage))
	for frame, location := range m.pageToSwap {
		if location.device > index {
			location.device--
		}
		pageToSwap[frame] = location
		swapToPage[location] = frame
	}
	m.pageToSwap, m.swapToPage = pageToSwap, swapToPage
	for entry, location := range m.entries {
		if location.device > index {
			location.device--
			m.entries[entry] = location
		}
	}

	slog.Info("Dispositivo de swap removido", "nombre", device.Name())
	return device, nil
}

// IndexOf retorna el índice actual del dispositivo o -1.
func (m *SwapManager) IndexOf(device *SwapDevice) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Index(m.devices, device)
}

// SwapOutPage guarda data (una página) como contenido del frame. Prueba los
// dispositivos en orden; si uno falla libera el slot y sigue con el próximo.
func (m *SwapManager) SwapOutPage(frame models.PageFrame, data []byte) (models.SwapSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, swapped := m.pageToSwap[frame]; swapped {
		return 0, fmt.Errorf("%w: el frame %d ya está en swap", models.ErrSlotInUse, frame)
	}

	for index, device := range m.devices {
		allocator := m.allocators[index]
		slot, ok := allocator.AllocateSlot()
		if !ok {
			continue
		}

		if err := device.WritePage(slot, data); err != nil {
			_ = allocator.DeallocateSlot(slot)
			slog.Warn("Falló la escritura en swap, se prueba el siguiente dispositivo",
				"dispositivo", device.Name(), "slot", slot, "error", err)
			continue
		}

		location := swapLocation{device: index, slot: slot}
		m.pageToSwap[frame] = location
		m.swapToPage[location] = frame
		slog.Debug("Página enviada a swap", "frame", frame, "dispositivo", device.Name(), "slot", slot)
		return slot, nil
	}

	return 0, fmt.Errorf("%w: frame %d", models.ErrNoSpace, frame)
}

// SwapInPage lee el contenido del frame desde swap en buffer y libera el slot.
// Si la lectura falla la página sigue en swap.
func (m *SwapManager) SwapInPage(frame models.PageFrame, buffer []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	location, swapped := m.pageToSwap[frame]
	if !swapped {
		return fmt.Errorf("%w: el frame %d no está en swap", models.ErrSlotNotInUse, frame)
	}

	if err := m.devices[location.device].ReadPage(location.slot, buffer); err != nil {
		return err
	}
	m.release(frame, location)
	slog.Debug("Página recuperada de swap", "frame", frame, "slot", location.slot)
	return nil
}

// DiscardPage libera el slot del frame sin leerlo, por ejemplo al desmapear.
func (m *SwapManager) DiscardPage(frame models.PageFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	location, swapped := m.pageToSwap[frame]
	if !swapped {
		return fmt.Errorf("%w: el frame %d no está en swap", models.ErrSlotNotInUse, frame)
	}
	m.release(frame, location)
	return nil
}

func (m *SwapManager) release(frame models.PageFrame, location swapLocation) {
	if err := m.allocators[location.device].DeallocateSlot(location.slot); err != nil {
		slog.Error("Slot de swap inconsistente", "frame", frame, "error", err)
	}
	delete(m.pageToSwap, frame)
	delete(m.swapToPage, location)
}

// Detach desliga del frame la página que guardó SwapOutPage y retorna el
// SwapEntry con el que se la recupera. El slot sigue ocupado.
func (m *SwapManager) Detach(frame models.PageFrame) (models.SwapEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	location, swapped := m.pageToSwap[frame]
	if !swapped {
		return 0, fmt.Errorf("%w: el frame %d no está en swap", models.ErrSlotNotInUse, frame)
	}
	if m.nextEntry > models.MaxSwapEntry {
		return 0, fmt.Errorf("%w: no quedan identificadores de swap", models.ErrNoSpace)
	}

	entry := m.nextEntry
	m.nextEntry++
	delete(m.pageToSwap, frame)
	delete(m.swapToPage, location)
	m.entries[entry] = location
	return entry, nil
}

// SwapInEntry lee la página entry en buffer y libera su slot. Si la lectura
// falla la página sigue en swap.
func (m *SwapManager) SwapInEntry(entry models.SwapEntry, buffer []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	location, ok := m.entries[entry]
	if !ok {
		return fmt.Errorf("%w: entrada de swap %d", models.ErrSlotNotInUse, entry)
	}
	if err := m.devices[location.device].ReadPage(location.slot, buffer); err != nil {
		return err
	}
	m.releaseEntry(entry, location)
	slog.Debug("Página recuperada de swap", "entrada", entry, "slot", location.slot)
	return nil
}

// DiscardEntry libera el slot de entry sin leerlo.
func (m *SwapManager) DiscardEntry(entry models.SwapEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	location, ok := m.entries[entry]
	if !ok {
		return fmt.Errorf("%w: entrada de swap %d", models.ErrSlotNotInUse, entry)
	}
	m.releaseEntry(entry, location)
	return nil
}

func (m *SwapManager) releaseEntry(entry models.SwapEntry, location swapLocation) {
	if err := m.allocators[location.device].DeallocateSlot(location.slot); err != nil {
		slog.Error("Slot de swap inconsistente", "entrada", entry, "error", err)
	}
	delete(m.entries, entry)
}

func (m *SwapManager) IsEntrySwapped(entry models.SwapEntry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.entries[entry]
	return ok
}

func (m *SwapManager) IsPageSwapped(frame models.PageFrame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, swapped := m.pageToSwap[frame]
	return swapped
}

// SwappedPages retorna los frames en swap ordenados.
func (m *SwapManager) SwappedPages() []models.PageFrame {
	m.mu.Lock()
	defer m.mu.Unlock()

	frames := maps.Keys(m.pageToSwap)
	slices.Sort(frames)
	return frames
}

// Stats suma los slots de todos los dispositivos.
func (m *SwapManager) Stats() models.SwapStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats models.SwapStats
	for _, allocator := range m.allocators {
		stats = stats.Add(allocator.Stats())
	}
	return stats
}

func (m *SwapManager) DeviceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.devices)
}

// DeviceStats retorna el estado del dispositivo index.
func (m *SwapManager) DeviceStats(index int) (models.DeviceStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.devices) {
		return models.DeviceStats{}, false
	}
	device := m.devices[index]
	return models.DeviceStats{
		Name:      device.Name(),
		Kind:      device.Kind().String(),
		Available: device.IsAvailable(),
		Stats:     m.allocators[index].Stats(),
	}, true
}

// Close cierra todos los dispositivos.
func (m *SwapManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, device := range m.devices {
		errs = append(errs, device.Close())
	}
	return errors.Join(errs...)
}
