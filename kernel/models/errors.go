package models

import (
	"errors"
	"fmt"
)

// Errores de procesos y planificación.
var (
	ErrProcessNotFound         = errors.New("proceso inexistente")
	ErrProcessTableFull        = errors.New("la tabla de procesos está llena")
	ErrInvalidStateTransition  = errors.New("transición de estado inválida")
	ErrInvalidArgument         = errors.New("argumento inválido")
	ErrResourceExhausted       = errors.New("recursos del sistema agotados")
	ErrAddressSpaceUnavailable = errors.New("no se pudo crear el espacio de direcciones")
)

// Errores de IPC y capacidades.
var (
	ErrQueueFull           = errors.New("la cola de mensajes está llena")
	ErrNoMessage           = errors.New("no hay mensajes")
	ErrPermissionDenied    = errors.New("permiso denegado")
	ErrMessageTooLarge     = errors.New("el mensaje supera el tamaño de la cola")
	ErrTimeout             = errors.New("tiempo de espera agotado")
	ErrSenderNotFound      = fmt.Errorf("emisor: %w", ErrProcessNotFound)
	ErrReceiverNotFound    = fmt.Errorf("receptor: %w", ErrProcessNotFound)
	ErrCapabilityNotFound  = errors.New("capacidad inexistente")
	ErrCapabilityExpired   = errors.New("capacidad vencida")
	ErrNotDelegatable      = errors.New("la capacidad no se puede delegar")
	ErrDriverNotRegistered = errors.New("driver no registrado")
	ErrDriverAlreadyExists = errors.New("el driver ya está registrado")
)

// Errores de syscalls.
var (
	ErrInvalidSyscall = errors.New("syscall inválida")
	ErrNotSupported   = errors.New("operación no soportada")
	ErrWouldBlock     = errors.New("el recurso todavía no está disponible")
)
