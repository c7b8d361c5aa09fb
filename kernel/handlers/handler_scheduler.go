package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sisoputnfrba/tp-kosh/kernel/models"
	"github.com/sisoputnfrba/tp-kosh/kernel/services"
	"github.com/sisoputnfrba/tp-kosh/utils/web/server"
)

// ScheduleResponse indica qué proceso quedó en la CPU. PID es nil si quedó ociosa.
type ScheduleResponse struct {
	PID *models.ProcessID `json:"pid,omitempty"`
}

// SchedulerRequest es el cuerpo de POST /kernel/planificador. Los campos vacíos no cambian.
type SchedulerRequest struct {
	Algorithm   string `json:"algorithm,omitempty"`
	TimeSliceMs uint64 `json:"time_slice_ms,omitempty"`
}

// TickRequest es el cuerpo de POST /kernel/tick.
type TickRequest struct {
	ElapsedMs uint64 `json:"elapsed_ms"`
}

func scheduleResponse(pid models.ProcessID, ok bool) ScheduleResponse {
	if !ok {
		return ScheduleResponse{}
	}
	return ScheduleResponse{PID: &pid}
}

func ScheduleHandler(kernel *services.Kernel) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		server.SendJsonResponse(writer, scheduleResponse(kernel.Scheduler.Schedule()))
	}
}

func GetSchedulerHandler(kernel *services.Kernel) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		server.SendJsonResponse(writer, kernel.Scheduler.Statistics())
	}
}

// UpdateSchedulerHandler cambia el algoritmo y/o el quantum.
func UpdateSchedulerHandler(kernel *services.Kernel) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		var schedulerRequest SchedulerRequest
		if err := json.NewDecoder(request.Body).Decode(&schedulerRequest); err != nil {
			server.SendJsonError(writer, http.StatusBadRequest, err)
			return
		}

		if schedulerRequest.Algorithm != "" {
			algorithm, err := models.ParseSchedulingAlgorithm(schedulerRequest.Algorithm)
			if err != nil {
				server.SendJsonError(writer, http.StatusBadRequest, err)
				return
			}
			kernel.Scheduler.SetAlgorithm(algorithm)
		}
		if schedulerRequest.TimeSliceMs != 0 {
			if err := kernel.Scheduler.SetTimeSlice(schedulerRequest.TimeSliceMs); err != nil {
				server.SendJsonError(writer, http.StatusBadRequest, err)
				return
			}
		}
		server.SendJsonResponse(writer, kernel.Scheduler.Statistics())
	}
}

// TickHandler simula una interrupción de reloj de elapsed_ms milisegundos.
func TickHandler(kernel *services.Kernel) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		var tickRequest TickRequest
		if err := json.NewDecoder(request.Body).Decode(&tickRequest); err != nil {
			server.SendJsonError(writer, http.StatusBadRequest, err)
			return
		}
		server.SendJsonResponse(writer, scheduleResponse(kernel.Tick(tickRequest.ElapsedMs)))
	}
}
