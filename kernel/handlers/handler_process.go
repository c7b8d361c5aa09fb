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

// ProcessRequest es el cuerpo de POST /kernel/procesos.
type ProcessRequest struct {
	Name      string                 `json:"name"`
	ParentPID *models.ProcessID      `json:"parent_pid,omitempty"`
	Priority  models.ProcessPriority `json:"priority"`
}

// FinishRequest es el cuerpo de POST /kernel/procesos/finalizar.
type FinishRequest struct {
	PID      models.ProcessID `json:"pid"`
	ExitCode int32            `json:"exit_code"`
}

// GetProcessesHandler lista los procesos, o uno solo con ?pid=N.
func GetProcessesHandler(kernel *services.Kernel) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		pidStr := request.URL.Query().Get("pid")
		if pidStr == "" {
			server.SendJsonResponse(writer, kernel.Processes.List())
			return
		}

		pid, err := strconv.ParseUint(pidStr, 10, 32)
		if err != nil {
			server.SendJsonError(writer, http.StatusBadRequest, fmt.Errorf("parámetro pid inválido: %w", err))
			return
		}
		process, ok := kernel.Processes.Get(models.ProcessID(pid))
		if !ok {
			server.SendJsonError(writer, http.StatusNotFound, fmt.Errorf("%w: PID %d", models.ErrProcessNotFound, pid))
			return
		}
		slog.Debug(fmt.Sprintf("PID: %d - Estado: %s", process.PID, process.State))
		server.SendJsonResponse(writer, process)
	}
}

// CreateProcessHandler crea un proceso. Sin prioridad se crea como NORMAL.
func CreateProcessHandler(kernel *services.Kernel) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		processRequest := ProcessRequest{Priority: models.PriorityNormal}
		if err := json.NewDecoder(request.Body).Decode(&processRequest); err != nil {
			server.SendJsonError(writer, http.StatusBadRequest, err)
			return
		}
		if processRequest.Name == "" {
			server.SendJsonError(writer, http.StatusBadRequest, fmt.Errorf("%w: proceso sin nombre", models.ErrInvalidArgument))
			return
		}

		pid, err := kernel.CreateProcess(processRequest.Name, processRequest.ParentPID, processRequest.Priority)
		if err != nil {
			server.SendJsonError(writer, StatusFor(err), err)
			return
		}
		process, _ := kernel.Processes.Get(pid)
		server.SendJsonResponse(writer, process)
	}
}

// FinishProcessHandler termina un proceso como si hubiera llamado a exit.
func FinishProcessHandler(kernel *services.Kernel) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		var finishRequest FinishRequest
		if err := json.NewDecoder(request.Body).Decode(&finishRequest); err != nil {
			server.SendJsonError(writer, http.StatusBadRequest, err)
			return
		}
		if err := kernel.Exit(finishRequest.PID, finishRequest.ExitCode); err != nil {
			server.SendJsonError(writer, StatusFor(err), err)
			return
		}
		process, _ := kernel.Processes.Get(finishRequest.PID)
		server.SendJsonResponse(writer, process)
	}
}

// ReapZombiesHandler elimina los procesos Zombie y responde sus PIDs.
func ReapZombiesHandler(kernel *services.Kernel) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		reaped := kernel.ReapZombies()
		if reaped == nil {
			reaped = []models.ProcessID{}
		}
		server.SendJsonResponse(writer, reaped)
	}
}
