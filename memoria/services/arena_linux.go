//go:build linux

package services

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

var errUnalignedRelease = errors.New("rango no alineado a la página del host")

// mapArena reserva la RAM simulada como un mapeo anónimo privado del host.
func mapArena(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE)
}

func unmapArena(data []byte) error {
	return unix.Munmap(data)
}

// releaseArena devuelve al host las páginas de data. En un mapeo anónimo privado
// la próxima lectura ve ceros. Si el rango no está alineado a la página del host
// se rechaza para no tocar frames vecinos.
func releaseArena(data []byte) error {
	hostPage := uintptr(unix.Getpagesize())
	if len(data) == 0 || uintptr(unsafe.Pointer(&data[0]))%hostPage != 0 || uintptr(len(data))%hostPage != 0 {
		return errUnalignedRelease
	}
	return unix.Madvise(data, unix.MADV_DONTNEED)
}
