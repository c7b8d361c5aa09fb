package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sisoputnfrba/tp-kosh/memoria/models"
	"github.com/sisoputnfrba/tp-kosh/memoria/services"
	"github.com/sisoputnfrba/tp-kosh/utils/bits"
	"github.com/sisoputnfrba/tp-kosh/utils/web/server"
)

// CapacityRequest es el cuerpo de POST /memoria/capacidad.
type CapacityRequest struct {
	Size uint64 `json:"size"`
}

// CapacityResponse indica si hay frames libres para size bytes.
type CapacityResponse struct {
	Pages     uint64 `json:"pages"`
	FreePages int    `json:"free_pages"`
	Fits      bool   `json:"fits"`
}

// UserMemoryCapacityHandler verifica si entran size bytes en frames libres sin recurrir a swap.
func UserMemoryCapacityHandler(memory *services.MemoryManager) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var request CapacityRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			server.SendJsonError(w, http.StatusBadRequest, err)
			return
		}
		if request.Size == 0 {
			server.SendJsonError(w, http.StatusBadRequest, fmt.Errorf("size tiene que ser positivo"))
			return
		}

		pages := bits.DivRoundUp(request.Size, uint64(models.PageSize))
		free := memory.Frames().Stats().FreePages
		slog.Debug("Verificando capacidad de memoria", "size", request.Size, "paginas", pages, "libres", free)

		server.SendJsonResponse(w, CapacityResponse{Pages: pages, FreePages: free, Fits: pages <= uint64(free)})
	}
}
