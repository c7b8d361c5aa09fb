package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sisoputnfrba/tp-kosh/kernel/models"
	"github.com/sisoputnfrba/tp-kosh/kernel/services"
	"github.com/sisoputnfrba/tp-kosh/utils/web/server"
)

// ExecuteSyscallHandler ejecuta una syscall. Los errores de la syscall viajan
// en errno con status 200; sólo un cuerpo mal formado da 400.
func ExecuteSyscallHandler(kernel *services.Kernel) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		var syscallRequest models.SyscallRequest
		if err := json.NewDecoder(request.Body).Decode(&syscallRequest); err != nil {
			server.SendJsonError(writer, http.StatusBadRequest, fmt.Errorf("error al decodificar la syscall: %w", err))
			return
		}
		slog.Debug(fmt.Sprintf("BODY: %+v", syscallRequest))

		server.SendJsonResponse(writer, kernel.Dispatch(request.Context(), syscallRequest))
	}
}

// GetIpcHandler responde las estadísticas de IPC. Con ?pid=N agrega las de su cola.
func GetIpcHandler(kernel *services.Kernel) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		pidStr := request.URL.Query().Get("pid")
		if pidStr == "" {
			server.SendJsonResponse(writer, kernel.IPC.Stats())
			return
		}

		pid, err := strconv.ParseUint(pidStr, 10, 32)
		if err != nil {
			server.SendJsonError(writer, http.StatusBadRequest, fmt.Errorf("parámetro pid inválido: %w", err))
			return
		}
		queue, ok := kernel.Queues.QueueStats(models.ProcessID(pid))
		if !ok {
			server.SendJsonError(writer, http.StatusNotFound, fmt.Errorf("%w: PID %d sin cola", models.ErrProcessNotFound, pid))
			return
		}
		server.SendJsonResponse(writer, queue)
	}
}

// GetCapabilitiesHandler responde las capacidades de ?pid=N.
func GetCapabilitiesHandler(kernel *services.Kernel) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		pid, err := strconv.ParseUint(request.URL.Query().Get("pid"), 10, 32)
		if err != nil {
			server.SendJsonError(writer, http.StatusBadRequest, fmt.Errorf("parámetro pid inválido: %w", err))
			return
		}
		capabilities := kernel.Capabilities.Capabilities(models.ProcessID(pid))
		if capabilities == nil {
			capabilities = []models.Capability{}
		}
		server.SendJsonResponse(writer, capabilities)
	}
}

func GetDriversHandler(kernel *services.Kernel) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		server.SendJsonResponse(writer, kernel.Drivers.List())
	}
}
