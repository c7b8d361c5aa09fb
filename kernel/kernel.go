package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	kernelHandler "github.com/sisoputnfrba/tp-kosh/kernel/handlers"
	"github.com/sisoputnfrba/tp-kosh/kernel/models"
	"github.com/sisoputnfrba/tp-kosh/kernel/services"
	memoryHandler "github.com/sisoputnfrba/tp-kosh/memoria/handlers"
	"github.com/sisoputnfrba/tp-kosh/utils/config"
	"github.com/sisoputnfrba/tp-kosh/utils/log"
	"github.com/sisoputnfrba/tp-kosh/utils/web/handlers"
	"github.com/sisoputnfrba/tp-kosh/utils/web/server"
)

const (
	ConfigPath = "kernel/configs/kernel.json"
	LogPath    = "./logs/kernel.log"
)

func main() {
	configPath := ConfigPath
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	kernelConfig := models.DefaultConfig()
	config.InitConfig(configPath, &kernelConfig)
	log.InitLogger(LogPath, kernelConfig.LogLevel)

	slog.Debug(fmt.Sprintf("Port Kernel: %d", kernelConfig.PortKernel))

	kernel, err := services.NewKernel(kernelConfig, services.StubClock{})
	if err != nil {
		slog.Error("Error al inicializar el kernel", "error", err)
		panic(err)
	}
	defer kernel.Shutdown()

	initPID, err := kernel.Boot()
	if err != nil {
		slog.Error("Error al crear init", "error", err)
		panic(err)
	}
	slog.Info(fmt.Sprintf("Kernel listo - init es el PID %d", initPID))

	/* ----------> ENDPOINTS <----------*/
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", handlers.HandshakeHandler("Bienvenido al módulo de Kernel"))
	mux.HandleFunc("GET /kernel", handlers.HandshakeHandler("Kernel en funcionamiento 🚀"))
	kernelHandler.RegisterHandlers(mux, kernel)
	memoryHandler.RegisterHandlers(mux, kernel.Memory, kernel.Config.DumpPath)

	//Iniciacialización del servidor
	if err := server.InitServer(kernel.Config.PortKernel, mux); err != nil {
		slog.Error(fmt.Sprintf("error initializing server: %v", err))
	}
}
