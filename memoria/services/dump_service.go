package services

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sisoputnfrba/tp-kosh/memoria/helpers"
)

// DumpMemory escribe en dir un volcado de texto con el estado de los frames,
// los bloques del heap, los mapeos de cada espacio de direcciones y el swap.
// Retorna la ruta del archivo creado.
func (m *MemoryManager) DumpMemory(dir string) (string, error) {
	slog.Info("## Memory Dump solicitado")
	if err := helpers.CreateDirectory(dir); err != nil {
		return "", err
	}

	dumpFilePath := filepath.Join(dir, helpers.GetDumpName("memoria"))
	file, err := os.Create(dumpFilePath)
	if err != nil {
		slog.Error(fmt.Sprintf("error al crear archivo de dump: %v", err))
		return "", err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	m.writeDump(writer)
	if err := writer.Flush(); err != nil {
		return "", fmt.Errorf("fallo al escribir datos al archivo de dump: %w", err)
	}

	slog.Info(fmt.Sprintf("Memoria: Memory Dump completado en %s", dumpFilePath))
	return dumpFilePath, nil
}

func (m *MemoryManager) writeDump(writer *bufio.Writer) {
	stats := m.Stats()

	fmt.Fprintf(writer, "== Frames ==\n")
	fmt.Fprintf(writer, "total=%d usados=%d libres=%d reservados=%d\n",
		stats.Frames.TotalPages, stats.Frames.UsedPages, stats.Frames.FreePages, stats.Frames.ReservedPages)

	fmt.Fprintf(writer, "\n== Heap ==\n")
	fmt.Fprintf(writer, "asignaciones=%d bytes_actuales=%d pico=%d libres=%d\n",
		stats.Heap.CurrentAllocations, stats.Heap.CurrentBytes, stats.Heap.PeakBytes, stats.Heap.FreeBytes)
	for _, block := range m.heap.Blocks() {
		state := "usado"
		if block.Free {
			state = "libre"
		}
		fmt.Fprintf(writer, "  %#x %8d %s\n", block.Address, block.Size, state)
	}

	for _, asid := range m.AddressSpaceIDs() {
		space, ok := m.AddressSpace(asid)
		if !ok {
			continue
		}
		fmt.Fprintf(writer, "\n== Espacio %d (raíz: frame %d) ==\n", asid, space.Root())
		for _, region := range space.Regions() {
			fmt.Fprintf(writer, "  región %-12s %s-%s %s\n", region.Name, region.Start, region.End(), region.Protection)
		}
		for _, mapping := range space.Mappings() {
			location := fmt.Sprintf("frame %d", mapping.Frame)
			if mapping.Swapped {
				location = fmt.Sprintf("swap entrada %d", mapping.SwapEntry)
			}
			fmt.Fprintf(writer, "  %s -> %s %s\n", mapping.Virtual, location, mapping.Protection)
		}
	}

	fmt.Fprintf(writer, "\n== Swap (%s) ==\n", stats.Swapper.Algorithm)
	fmt.Fprintf(writer, "slots=%d usados=%d uso=%.1f%% fallos=%d entradas=%d salidas=%d\n",
		stats.Swap.TotalSlots, stats.Swap.UsedSlots, stats.Swap.UsagePercent(),
		stats.Swapper.PageFaults, stats.Swapper.PagesSwappedIn, stats.Swapper.PagesSwappedOut)
	for i := 0; i < m.swap.DeviceCount(); i++ {
		if device, ok := m.swap.DeviceStats(i); ok {
			fmt.Fprintf(writer, "  [%d] %s (%s) %d/%d\n", i, device.Name, device.Kind, device.Stats.UsedSlots, device.Stats.TotalSlots)
		}
	}
}
