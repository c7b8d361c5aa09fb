package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ioHandler "github.com/sisoputnfrba/tp-kosh/io/handlers"
	"github.com/sisoputnfrba/tp-kosh/io/models"
	"github.com/sisoputnfrba/tp-kosh/io/services"
	"github.com/sisoputnfrba/tp-kosh/utils/config"
	"github.com/sisoputnfrba/tp-kosh/utils/log"
	"github.com/sisoputnfrba/tp-kosh/utils/web/handlers"
	"github.com/sisoputnfrba/tp-kosh/utils/web/server"
)

const ConfigPath = "io/configs/io.json"

func main() {
	if len(os.Args) < 2 {
		slog.Error("no se indicó el nombre del driver")
		return
	}
	driverName := os.Args[1]
	configPath := ConfigPath
	if len(os.Args) > 2 {
		configPath = os.Args[2]
	}

	ioConfig := models.DefaultConfig()
	config.InitConfig(configPath, &ioConfig)
	log.InitLogger(fmt.Sprintf("./logs/io_%s.log", driverName), ioConfig.LogLevel)
	if err := ioConfig.Validate(); err != nil {
		slog.Error("Configuración inválida", "error", err)
		panic(err)
	}

	slog.Debug(fmt.Sprintf("Port IO: %d - Driver: %s", ioConfig.PortIo, driverName))

	driver := services.NewDriver(driverName, ioConfig)
	if err := driver.Connect(); err != nil {
		slog.Error("No se pudo conectar con el Kernel", "error", err)
		panic(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := driver.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("El driver dejó de atender pedidos", "error", err)
		}
	}()

	go func() {
		sig := <-shutdown
		slog.Debug("Señal recibida, cerrando módulo IO", "signal", sig)
		cancel()

		// Notifica al Kernel que se cierra este driver
		driver.Disconnect()

		os.Exit(0)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", handlers.HandshakeHandler(fmt.Sprintf("Bienvenido al módulo de IO - Driver: %s", driverName)))
	mux.HandleFunc("GET /io", handlers.HandshakeHandler("IO en funcionamiento 🚀"))
	mux.HandleFunc("GET /io/estado", ioHandler.StatusHandler(driver))

	if err := server.InitServer(ioConfig.PortIo, mux); err != nil {
		slog.Error(fmt.Sprintf("error initializing server: %v", err))
		panic(err)
	}
}
