package models

// Config agrupa la configuración del subsistema de memoria. Se anida dentro de
// la configuración del kernel bajo la clave "memory".
type Config struct {
	MemorySize       uint64       `json:"memory_size"`
	UseMmap          bool         `json:"use_mmap"`
	HeapPages        int          `json:"heap_pages"`
	TLBEntries       int          `json:"tlb_entries"`
	TLBReplacement   string       `json:"tlb_replacement"`
	SwapAlgorithm    string       `json:"swap_algorithm"`
	MaxResidentPages int          `json:"max_resident_pages"`
	SwapDevices      []SwapConfig `json:"swap_devices"`
}

// MinMemorySize es el tamaño mínimo de RAM: el primer MiB queda reservado y el
// bitmap de frames se ubica a partir de los 2 MiB.
const MinMemorySize = 4 * 1024 * 1024

// DefaultConfig retorna una configuración de 16 MiB sin swap.
func DefaultConfig() Config {
	return Config{
		MemorySize:       16 * 1024 * 1024,
		HeapPages:        64,
		TLBEntries:       16,
		TLBReplacement:   "LRU",
		SwapAlgorithm:    "LRU",
		MaxResidentPages: 1024,
	}
}

// ServerConfig es la configuración del módulo de memoria cuando corre solo,
// sin kernel, para inspeccionar los subsistemas de memoria por HTTP.
type ServerConfig struct {
	PortMemory int    `json:"port_memory"`
	LogLevel   string `json:"log_level"`
	DumpPath   string `json:"dump_path"`
	Memory     Config `json:"memory"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		PortMemory: 8002,
		LogLevel:   "INFO",
		DumpPath:   "./dumps",
		Memory:     DefaultConfig(),
	}
}
