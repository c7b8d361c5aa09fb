package services

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/sisoputnfrba/tp-kosh/memoria/models"
	"github.com/sisoputnfrba/tp-kosh/utils/bits"
)

// PhysicalMemory es la RAM simulada: un arreglo de bytes direccionado por
// dirección física. Las tablas de páginas, el heap y los datos de usuario viven acá.
type PhysicalMemory struct {
	data   []byte
	mapped bool
}

// NewPhysicalMemory crea la RAM simulada de size bytes. Con useMmap la memoria se
// pide al host con mmap, si no se usa un slice común.
func NewPhysicalMemory(size uint64, useMmap bool) (*PhysicalMemory, error) {
	if size < models.MinMemorySize || !bits.IsAligned(size, models.PageSize) {
		return nil, fmt.Errorf("%w: tamaño de memoria %d", models.ErrInvalidConfig, size)
	}

	if !useMmap {
		return &PhysicalMemory{data: make([]byte, size)}, nil
	}

	data, err := mapArena(int(size))
	if err != nil {
		return nil, fmt.Errorf("no se pudo reservar la memoria física: %w", err)
	}
	slog.Debug("Memoria física reservada con mmap", "bytes", size)
	return &PhysicalMemory{data: data, mapped: true}, nil
}

// Size retorna el tamaño de la RAM en bytes.
func (m *PhysicalMemory) Size() uint64 {
	return uint64(len(m.data))
}

// FrameCount retorna la cantidad de frames de la RAM.
func (m *PhysicalMemory) FrameCount() int {
	return len(m.data) / models.PageSize
}

// Slice retorna la vista [addr, addr+length) de la RAM.
func (m *PhysicalMemory) Slice(addr, length uint64) ([]byte, error) {
	if addr > m.Size() || length > m.Size()-addr {
		return nil, fmt.Errorf("%w: %#x (+%d) fuera de la memoria física", models.ErrInvalidAddress, addr, length)
	}
	return m.data[addr : addr+length : addr+length], nil
}

// Frame retorna los 4096 bytes del frame, nil si está fuera de rango.
func (m *PhysicalMemory) Frame(frame models.PageFrame) []byte {
	data, err := m.Slice(frame.Address(), models.PageSize)
	if err != nil {
		return nil
	}
	return data
}

// ReadU64 lee una palabra little-endian en addr.
func (m *PhysicalMemory) ReadU64(addr uint64) uint64 {
	return binary.LittleEndian.Uint64(m.data[addr : addr+8])
}

// WriteU64 escribe una palabra little-endian en addr.
func (m *PhysicalMemory) WriteU64(addr uint64, value uint64) {
	binary.LittleEndian.PutUint64(m.data[addr:addr+8], value)
}

// ZeroFrames pone en cero count frames a partir de start.
func (m *PhysicalMemory) ZeroFrames(start models.PageFrame, count int) {
	data, err := m.Slice(start.Address(), uint64(count)*models.PageSize)
	if err != nil {
		return
	}
	if m.mapped {
		if err := releaseArena(data); err == nil {
			return
		}
	}
	clear(data)
}

// Close libera la RAM. No se puede usar después.
func (m *PhysicalMemory) Close() error {
	data := m.data
	m.data = nil
	if m.mapped {
		return unmapArena(data)
	}
	return nil
}

// ReadFrame copia el contenido del frame en buffer.
func (m *PhysicalMemory) ReadFrame(frame models.PageFrame, buffer []byte) error {
	data := m.Frame(frame)
	if data == nil {
		return fmt.Errorf("%w: frame %d", models.ErrInvalidAddress, frame)
	}
	copy(buffer, data)
	return nil
}

// WriteFrame reemplaza el contenido del frame con data.
func (m *PhysicalMemory) WriteFrame(frame models.PageFrame, data []byte) error {
	target := m.Frame(frame)
	if target == nil {
		return fmt.Errorf("%w: frame %d", models.ErrInvalidAddress, frame)
	}
	copy(target, data)
	return nil
}
