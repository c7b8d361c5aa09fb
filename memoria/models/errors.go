package models

import (
	"errors"
	"fmt"
)

// Errores del frame allocator y del heap.
var (
	ErrOutOfMemory        = errors.New("memoria insuficiente")
	ErrAllocationTooLarge = errors.New("el pedido supera el máximo del heap")
	ErrInvalidPointer     = errors.New("puntero inválido")
	ErrHeapCorruption     = errors.New("heap corrupto")
	ErrDoubleFree         = errors.New("bloque liberado dos veces")
	ErrInvalidLayout      = errors.New("layout inválido")
	ErrInvalidConfig      = errors.New("configuración de memoria inválida")
)

// Errores de la memoria virtual.
var (
	ErrFrameAllocationFailed = errors.New("no se pudo asignar un frame")
	ErrPageAlreadyMapped     = errors.New("la página ya está mapeada")
	ErrPageNotMapped         = errors.New("la página no está mapeada")
	ErrInvalidAddress        = errors.New("dirección inválida")
	ErrRegionOverlap         = errors.New("la región se superpone con otra")
	ErrAddressSpaceNotFound  = errors.New("espacio de direcciones inexistente")
	ErrAccessViolation       = errors.New("violación de protección de memoria")
)

// Errores de swap.
var (
	ErrDeviceUnavailable = errors.New("dispositivo de swap no disponible")
	ErrInvalidSlot       = errors.New("slot de swap inválido")
	ErrSwapIO            = errors.New("error de entrada/salida en swap")
	ErrNoSpace           = errors.New("no hay espacio en swap")
	ErrSlotInUse         = errors.New("slot de swap en uso")
	ErrSlotNotInUse      = errors.New("slot de swap libre")
	ErrConfigNotFound    = errors.New("configuración de swap inexistente")
)

// MapError envuelve la causa de un mapeo fallido.
type MapError struct {
	Addr VirtualAddress
	Err  error
}

func (e *MapError) Error() string {
	return fmt.Sprintf("error al mapear %s: %v", e.Addr, e.Err)
}

func (e *MapError) Unwrap() error { return e.Err }

// UnmapError envuelve la causa de un desmapeo fallido.
type UnmapError struct {
	Addr VirtualAddress
	Err  error
}

func (e *UnmapError) Error() string {
	return fmt.Sprintf("error al desmapear %s: %v", e.Addr, e.Err)
}

func (e *UnmapError) Unwrap() error { return e.Err }
