package models

import (
	"fmt"

	memorymodels "github.com/sisoputnfrba/tp-kosh/memoria/models"
)

// Config es la configuración del kernel (kernel/configs/kernel.json).
type Config struct {
	PortKernel         int                 `json:"port_kernel"`
	LogLevel           string              `json:"log_level"`
	MaxProcesses       int                 `json:"max_processes"`
	SchedulerAlgorithm string              `json:"scheduler_algorithm"`
	TimeSliceMs        uint64              `json:"time_slice_ms"`
	QueueMaxMessages   int                 `json:"queue_max_messages"`
	QueueMaxBytes      int                 `json:"queue_max_bytes"`
	DumpPath           string              `json:"dump_path"`
	Memory             memorymodels.Config `json:"memory"`
}

const (
	DefaultMaxProcesses     = 256
	DefaultQueueMaxMessages = 256
	DefaultQueueMaxBytes    = 64 * 1024
)

// DefaultConfig es la configuración con la que arrancan los tests y el kernel
// cuando un valor no está en el archivo.
func DefaultConfig() Config {
	return Config{
		PortKernel:         8001,
		LogLevel:           "INFO",
		MaxProcesses:       DefaultMaxProcesses,
		SchedulerAlgorithm: "RR",
		TimeSliceMs:        DefaultTimeSliceMs,
		QueueMaxMessages:   DefaultQueueMaxMessages,
		QueueMaxBytes:      DefaultQueueMaxBytes,
		DumpPath:           "./dumps",
		Memory:             memorymodels.DefaultConfig(),
	}
}

// WithDefaults completa los valores en cero con los de DefaultConfig.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()
	if c.MaxProcesses == 0 {
		c.MaxProcesses = defaults.MaxProcesses
	}
	if c.SchedulerAlgorithm == "" {
		c.SchedulerAlgorithm = defaults.SchedulerAlgorithm
	}
	if c.TimeSliceMs == 0 {
		c.TimeSliceMs = defaults.TimeSliceMs
	}
	if c.QueueMaxMessages == 0 {
		c.QueueMaxMessages = defaults.QueueMaxMessages
	}
	if c.QueueMaxBytes == 0 {
		c.QueueMaxBytes = defaults.QueueMaxBytes
	}
	if c.DumpPath == "" {
		c.DumpPath = defaults.DumpPath
	}
	if c.Memory.MemorySize == 0 {
		c.Memory = defaults.Memory
	}
	return c
}

// Validate controla los valores que no tienen un default razonable.
func (c Config) Validate() error {
	if c.MaxProcesses < 1 {
		return fmt.Errorf("%w: max_processes %d", ErrInvalidArgument, c.MaxProcesses)
	}
	if c.QueueMaxMessages < 1 || c.QueueMaxBytes < MessageHeaderSize {
		return fmt.Errorf("%w: límites de cola %d/%d", ErrInvalidArgument, c.QueueMaxMessages, c.QueueMaxBytes)
	}
	if _, err := ParseSchedulingAlgorithm(c.SchedulerAlgorithm); err != nil {
		return err
	}
	return nil
}
