package services

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/sisoputnfrba/tp-kosh/memoria/models"
	"github.com/sisoputnfrba/tp-kosh/utils/bits"
)

// SwapDevice es un dispositivo de swap. Kind define la variante:
//   - SwapFile: archivo del host del tamaño del dispositivo.
//   - SwapMemory: buffer en memoria, útil como RAM disk.
//   - SwapPartition: sin driver de disco, toda operación de I/O falla con ErrSwapIO.
type SwapDevice struct {
	mu          sync.Mutex
	kind        models.SwapDeviceKind
	name        string
	size        uint64
	available   bool
	file        *os.File
	storage     []byte
	partitionID uint32
}

// NewFileSwapDevice crea (o trunca) el archivo path con sizeMB megabytes.
//
// Ejemplo:
//
//	func main() {
//		device, err := services.NewFileSwapDevice("/var/swap/swapfile", 64)
//		if err != nil {
//			slog.Error(err.Error())
//		}
//		defer device.Close()
//	}
func NewFileSwapDevice(path string, sizeMB uint64) (*SwapDevice, error) {
	size, err := swapSize(sizeMB)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrSwapIO, err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSwapIO, err)
	}
	if err := file.Truncate(int64(size)); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", models.ErrSwapIO, err)
	}

	slog.Debug("Archivo de swap creado", "path", path, "bytes", size)
	return &SwapDevice{kind: models.SwapFile, name: path, size: size, available: true, file: file}, nil
}

// NewMemorySwapDevice crea un dispositivo de swap en memoria.
func NewMemorySwapDevice(name string, sizeMB uint64) (*SwapDevice, error) {
	size, err := swapSize(sizeMB)
	if err != nil {
		return nil, err
	}
	return &SwapDevice{kind: models.SwapMemory, name: name, size: size, available: true, storage: make([]byte, size)}, nil
}

// NewPartitionSwapDevice registra una partición de swap. No hay driver de bloques,
// por lo que las lecturas y escrituras siempre fallan con ErrSwapIO.
func NewPartitionSwapDevice(devicePath string, partitionID uint32, sizeMB uint64) (*SwapDevice, error) {
	size, err := swapSize(sizeMB)
	if err != nil {
		return nil, err
	}
	return &SwapDevice{
		kind:        models.SwapPartition,
		name:        fmt.Sprintf("%s (partición %d)", devicePath, partitionID),
		size:        size,
		available:   true,
		partitionID: partitionID,
	}, nil
}

func swapSize(sizeMB uint64) (uint64, error) {
	if sizeMB == 0 {
		return 0, fmt.Errorf("%w: tamaño de dispositivo 0", models.ErrInvalidSlot)
	}
	return bits.AlignDown(sizeMB*models.BytesPerMB, models.PageSize), nil
}

func (d *SwapDevice) Kind() models.SwapDeviceKind { return d.kind }
func (d *SwapDevice) Name() string                { return d.name }
func (d *SwapDevice) Size() uint64                { return d.size }

// SlotCount retorna cuántas páginas entran en el dispositivo.
func (d *SwapDevice) SlotCount() int {
	return int(d.size / models.PageSize)
}

func (d *SwapDevice) IsAvailable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.available
}

// SetAvailable habilita o deshabilita el dispositivo.
func (d *SwapDevice) SetAvailable(available bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.available = available
}

// ReadPage lee el slot en buffer, que debe medir una página.
func (d *SwapDevice) ReadPage(slot models.SwapSlot, buffer []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(slot, buffer); err != nil {
		return err
	}

	offset := slot.Offset()
	switch d.kind {
	case models.SwapFile:
		if _, err := d.file.ReadAt(buffer, int64(offset)); err != nil {
			return fmt.Errorf("%w: lectura del slot %d: %v", models.ErrSwapIO, slot, err)
		}
	case models.SwapMemory:
		copy(buffer, d.storage[offset:offset+models.PageSize])
	default:
		return fmt.Errorf("%w: la partición %d no tiene driver", models.ErrSwapIO, d.partitionID)
	}
	return nil
}

// WritePage escribe data, que debe medir una página, en el slot.
func (d *SwapDevice) WritePage(slot models.SwapSlot, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(slot, data); err != nil {
		return err
	}

	offset := slot.Offset()
	switch d.kind {
	case models.SwapFile:
		if _, err := d.file.WriteAt(data, int64(offset)); err != nil {
			return fmt.Errorf("%w: escritura del slot %d: %v", models.ErrSwapIO, slot, err)
		}
	case models.SwapMemory:
		copy(d.storage[offset:offset+models.PageSize], data)
	default:
		return fmt.Errorf("%w: la partición %d no tiene driver", models.ErrSwapIO, d.partitionID)
	}
	return nil
}

func (d *SwapDevice) check(slot models.SwapSlot, buffer []byte) error {
	if !d.available {
		return fmt.Errorf("%w: %s", models.ErrDeviceUnavailable, d.name)
	}
	if slot.Offset()+models.PageSize > d.size {
		return fmt.Errorf("%w: slot %d fuera de %s", models.ErrInvalidSlot, slot, d.name)
	}
	if len(buffer) != models.PageSize {
		return fmt.Errorf("%w: buffer de %d bytes", models.ErrSwapIO, len(buffer))
	}
	return nil
}

// Close libera el archivo del dispositivo si lo tiene.
func (d *SwapDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.available = false
	if d.file != nil {
		err := d.file.Close()
		d.file = nil
		return err
	}
	return nil
}
