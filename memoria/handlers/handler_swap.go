package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sisoputnfrba/tp-kosh/memoria/models"
	"github.com/sisoputnfrba/tp-kosh/memoria/services"
	"github.com/sisoputnfrba/tp-kosh/utils/web/server"
)

// SwapOutRequest es el cuerpo de POST /memoria/swap/desalojar.
type SwapOutRequest struct {
	Count int `json:"count"`
}

// SwapOutResponse indica cuántas páginas salieron a swap.
type SwapOutResponse struct {
	Swapped int                 `json:"swapped"`
	Swapper models.SwapperStats `json:"swapper"`
	Error   string              `json:"error,omitempty"`
}

// SwapOutHandler desaloja count páginas con el algoritmo de reemplazo activo.
// Si falla a mitad de camino responde las que alcanzó a desalojar junto con el error.
func SwapOutHandler(memory *services.MemoryManager) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var request SwapOutRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			server.SendJsonError(w, http.StatusBadRequest, err)
			return
		}
		if request.Count <= 0 {
			server.SendJsonError(w, http.StatusBadRequest, fmt.Errorf("count tiene que ser positivo: %d", request.Count))
			return
		}

		swapped, err := memory.Swapper().SwapOutPages(request.Count)
		response := SwapOutResponse{Swapped: swapped, Swapper: memory.Swapper().Stats()}
		if err != nil {
			slog.Warn("Desalojo incompleto", "pedidas", request.Count, "desalojadas", swapped, "error", err)
			response.Error = err.Error()
		}
		server.SendJsonResponse(w, response)
	}
}

// MemoryPressureHandler desaloja las páginas que superan el umbral de residentes.
func MemoryPressureHandler(memory *services.MemoryManager) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		swapped, err := memory.CheckMemoryPressure()
		if err != nil {
			server.SendJsonError(w, StatusFor(err), err)
			return
		}
		server.SendJsonResponse(w, SwapOutResponse{Swapped: swapped, Swapper: memory.Swapper().Stats()})
	}
}
