package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/sisoputnfrba/tp-kosh/kernel/models"
	"github.com/sisoputnfrba/tp-kosh/kernel/services"
	memoriahandlers "github.com/sisoputnfrba/tp-kosh/memoria/handlers"
	memmodels "github.com/sisoputnfrba/tp-kosh/memoria/models"
	"github.com/sisoputnfrba/tp-kosh/utils/web/server"
)

// KernelStatsHandler responde la foto completa del kernel.
func KernelStatsHandler(kernel *services.Kernel) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		server.SendJsonResponse(writer, kernel.Stats())
	}
}

// StatusFor traduce un error del kernel a un status HTTP. Los errores de
// memoria se resuelven como en las rutas de memoria.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrProcessNotFound), errors.Is(err, models.ErrDriverNotRegistered),
		errors.Is(err, models.ErrCapabilityNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrPermissionDenied), errors.Is(err, models.ErrCapabilityExpired),
		errors.Is(err, models.ErrNotDelegatable):
		return http.StatusForbidden
	case errors.Is(err, models.ErrDriverAlreadyExists), errors.Is(err, models.ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrProcessTableFull), errors.Is(err, models.ErrQueueFull),
		errors.Is(err, models.ErrResourceExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrNotSupported):
		return http.StatusNotImplemented
	case isMemoryError(err):
		return memoriahandlers.StatusFor(err)
	default:
		return http.StatusBadRequest
	}
}

func isMemoryError(err error) bool {
	for _, memoryErr := range []error{
		memmodels.ErrAddressSpaceNotFound, memmodels.ErrPageNotMapped, memmodels.ErrOutOfMemory,
		memmodels.ErrNoSpace, memmodels.ErrAccessViolation,
	} {
		if errors.Is(err, memoryErr) {
			return true
		}
	}
	return false
}

// RegisterHandlers registra las rutas del kernel en mux.
func RegisterHandlers(mux *http.ServeMux, kernel *services.Kernel) {
	mux.HandleFunc("GET /kernel/stats", KernelStatsHandler(kernel))

	mux.HandleFunc("GET /kernel/procesos", GetProcessesHandler(kernel))
	mux.HandleFunc("POST /kernel/procesos", CreateProcessHandler(kernel))
	mux.HandleFunc("POST /kernel/procesos/finalizar", FinishProcessHandler(kernel))
	mux.HandleFunc("POST /kernel/procesos/cosechar", ReapZombiesHandler(kernel))

	mux.HandleFunc("POST /kernel/planificar", ScheduleHandler(kernel))
	mux.HandleFunc("GET /kernel/planificador", GetSchedulerHandler(kernel))
	mux.HandleFunc("POST /kernel/planificador", UpdateSchedulerHandler(kernel))
	mux.HandleFunc("POST /kernel/tick", TickHandler(kernel))

	mux.HandleFunc("GET /kernel/ipc", GetIpcHandler(kernel))
	mux.HandleFunc("GET /kernel/capacidades", GetCapabilitiesHandler(kernel))
	mux.HandleFunc("GET /kernel/drivers", GetDriversHandler(kernel))
	mux.HandleFunc("POST /kernel/syscall", ExecuteSyscallHandler(kernel))
}
