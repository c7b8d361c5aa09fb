package models

import (
	"fmt"

	kernelmodels "github.com/sisoputnfrba/tp-kosh/kernel/models"
)

type Config struct {
	IpKernel   string `json:"ip_kernel"`
	PortKernel int    `json:"port_kernel"`
	PortIo     int    `json:"port_io"`
	LogLevel   string `json:"log_level"`
	// DriverType y Capabilities son lo que se pide en driver_register.
	DriverType   kernelmodels.DriverType             `json:"driver_type"`
	Capabilities []kernelmodels.DriverCapabilityKind `json:"capabilities"`
	// PollTimeoutMs es cuánto espera cada receive_message antes de volver a intentar.
	PollTimeoutMs uint64 `json:"poll_timeout_ms"`
	// ServiceTimeMs simula lo que tarda el dispositivo en atender un pedido.
	ServiceTimeMs uint64 `json:"service_time_ms"`
}

func DefaultConfig() Config {
	return Config{
		IpKernel:      "127.0.0.1",
		PortKernel:    8001,
		PortIo:        8003,
		LogLevel:      "INFO",
		DriverType:    kernelmodels.DriverTypeStorage,
		Capabilities:  []kernelmodels.DriverCapabilityKind{kernelmodels.DriverIpc},
		PollTimeoutMs: 1000,
	}
}

func (c Config) Validate() error {
	if c.PollTimeoutMs == 0 {
		return fmt.Errorf("%w: poll_timeout_ms tiene que ser positivo", kernelmodels.ErrInvalidArgument)
	}
	if c.PortKernel <= 0 {
		return fmt.Errorf("%w: port_kernel %d", kernelmodels.ErrInvalidArgument, c.PortKernel)
	}
	return nil
}

// CapabilityMask arma los bits que espera driver_register, uno por tipo de capacidad.
func (c Config) CapabilityMask() uint64 {
	var mask uint64
	for _, kind := range c.Capabilities {
		mask |= 1 << uint(kind)
	}
	return mask
}

// DriverStatus es lo que responde GET /io/estado.
type DriverStatus struct {
	Name       string                       `json:"name"`
	PID        kernelmodels.ProcessID       `json:"pid"`
	Registered bool                         `json:"registered"`
	Granted    kernelmodels.CapabilityFlags `json:"granted"`
	Served     uint64                       `json:"served"`
	Ignored    uint64                       `json:"ignored"`
}
