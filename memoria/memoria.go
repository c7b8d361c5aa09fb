package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	memoryHandler "github.com/sisoputnfrba/tp-kosh/memoria/handlers"
	"github.com/sisoputnfrba/tp-kosh/memoria/models"
	"github.com/sisoputnfrba/tp-kosh/memoria/services"
	"github.com/sisoputnfrba/tp-kosh/utils/config"
	"github.com/sisoputnfrba/tp-kosh/utils/log"
	"github.com/sisoputnfrba/tp-kosh/utils/web/handlers"
	"github.com/sisoputnfrba/tp-kosh/utils/web/server"
)

const (
	ConfigPath = "memoria/configs/memoria.json"
	LogPath    = "./logs/memoria.log"
)

func main() {
	configPath := ConfigPath
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	memoryConfig := models.DefaultServerConfig()
	config.InitConfig(configPath, &memoryConfig)
	log.InitLogger(LogPath, memoryConfig.LogLevel)

	slog.Debug(fmt.Sprintf("Port Memory: %d", memoryConfig.PortMemory))

	memory, err := services.NewMemoryManager(memoryConfig.Memory)
	if err != nil {
		slog.Error("Error al inicializar la memoria", "error", err)
		panic(err)
	}
	defer memory.Close()

	stats := memory.Frames().Stats()
	slog.Info(fmt.Sprintf("Memoria lista - %d MiB, %d frames libres", stats.TotalMB(), stats.FreePages))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", handlers.HandshakeHandler("Bienvenido al módulo de Memoria"))
	mux.HandleFunc("GET /memoria", handlers.HandshakeHandler("Memoria en funcionamiento 🚀"))
	memoryHandler.RegisterHandlers(mux, memory, memoryConfig.DumpPath)

	if err := server.InitServer(memoryConfig.PortMemory, mux); err != nil {
		slog.Error(fmt.Sprintf("error initializing server: %v", err))
	}
}
