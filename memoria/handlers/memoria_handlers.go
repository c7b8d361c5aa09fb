package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sisoputnfrba/tp-kosh/memoria/models"
	"github.com/sisoputnfrba/tp-kosh/memoria/services"
	"github.com/sisoputnfrba/tp-kosh/utils/web/server"
)

// SwapResponse es el estado del swap que devuelve GET /memoria/swap.
type SwapResponse struct {
	Stats        models.SwapStats     `json:"stats"`
	UsagePercent float64              `json:"usage_percent"`
	Swapper      models.SwapperStats  `json:"swapper"`
	Devices      []models.DeviceStats `json:"devices"`
	Configs      []models.SwapConfig  `json:"configs"`
}

// AlgorithmRequest es el cuerpo de POST /memoria/swap/algoritmo.
type AlgorithmRequest struct {
	Algorithm string `json:"algorithm"`
}

// DumpResponse indica dónde quedó el dump.
type DumpResponse struct {
	Path string `json:"path"`
}

// MemoryStatsHandler responde el estado de todos los subsistemas de memoria.
func MemoryStatsHandler(memory *services.MemoryManager) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		server.SendJsonResponse(w, memory.Stats())
	}
}

// HeapHandler responde los bloques del heap del kernel y valida su consistencia.
func HeapHandler(memory *services.MemoryManager) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		heap := memory.Heap()
		response := struct {
			Stats  models.AllocationStats `json:"stats"`
			Blocks []models.HeapBlockInfo `json:"blocks"`
			Valid  bool                   `json:"valid"`
			Error  string                 `json:"error,omitempty"`
		}{Stats: heap.Stats(), Blocks: heap.Blocks(), Valid: true}

		if err := heap.Validate(); err != nil {
			response.Valid = false
			response.Error = err.Error()
		}
		server.SendJsonResponse(w, response)
	}
}

// SwapHandler responde el estado del swap y de cada dispositivo.
func SwapHandler(memory *services.MemoryManager) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		swap := memory.Swap()
		stats := swap.Stats()
		response := SwapResponse{
			Stats:        stats,
			UsagePercent: stats.UsagePercent(),
			Swapper:      memory.Swapper().Stats(),
			Devices:      []models.DeviceStats{},
			Configs:      memory.SwapConfigs().Configs(),
		}
		for i := 0; i < swap.DeviceCount(); i++ {
			if device, ok := swap.DeviceStats(i); ok {
				response.Devices = append(response.Devices, device)
			}
		}
		server.SendJsonResponse(w, response)
	}
}

// SwapAlgorithmHandler cambia el algoritmo de reemplazo.
func SwapAlgorithmHandler(memory *services.MemoryManager) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var request AlgorithmRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			server.SendJsonError(w, http.StatusBadRequest, err)
			return
		}
		if err := memory.SetReplacementAlgorithm(request.Algorithm); err != nil {
			server.SendJsonError(w, http.StatusBadRequest, err)
			return
		}
		server.SendJsonResponse(w, memory.Swapper().Stats())
	}
}

// MappingsHandler responde las regiones y páginas mapeadas del ASID ?asid=N.
func MappingsHandler(memory *services.MemoryManager) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		asid, err := strconv.ParseUint(r.URL.Query().Get("asid"), 10, 32)
		if err != nil {
			server.SendJsonError(w, http.StatusBadRequest, fmt.Errorf("asid inválido: %w", err))
			return
		}
		space, ok := memory.AddressSpace(uint32(asid))
		if !ok {
			server.SendJsonError(w, http.StatusNotFound, models.ErrAddressSpaceNotFound)
			return
		}
		server.SendJsonResponse(w, struct {
			Root     models.PageFrame             `json:"root"`
			Regions  []models.VirtualMemoryRegion `json:"regions"`
			Mappings []models.Mapping             `json:"mappings"`
		}{space.Root(), space.Regions(), space.Mappings()})
	}
}

// DumpHandler genera un dump de memoria en dumpPath.
func DumpHandler(memory *services.MemoryManager, dumpPath string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		path, err := memory.DumpMemory(dumpPath)
		if err != nil {
			slog.Error("No se pudo generar el dump", "error", err)
			server.SendJsonError(w, http.StatusInternalServerError, err)
			return
		}
		server.SendJsonResponse(w, DumpResponse{Path: path})
	}
}

// StatusFor traduce un error de memoria a un status HTTP.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrAddressSpaceNotFound), errors.Is(err, models.ErrPageNotMapped):
		return http.StatusNotFound
	case errors.Is(err, models.ErrOutOfMemory), errors.Is(err, models.ErrNoSpace):
		return http.StatusInsufficientStorage
	case errors.Is(err, models.ErrAccessViolation):
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

// RegisterHandlers registra las rutas de memoria en mux.
func RegisterHandlers(mux *http.ServeMux, memory *services.MemoryManager, dumpPath string) {
	mux.HandleFunc("GET /memoria/stats", MemoryStatsHandler(memory))
	mux.HandleFunc("GET /memoria/heap", HeapHandler(memory))
	mux.HandleFunc("GET /memoria/swap", SwapHandler(memory))
	mux.HandleFunc("POST /memoria/swap/algoritmo", SwapAlgorithmHandler(memory))
	mux.HandleFunc("POST /memoria/swap/desalojar", SwapOutHandler(memory))
	mux.HandleFunc("POST /memoria/swap/presion", MemoryPressureHandler(memory))
	mux.HandleFunc("POST /memoria/capacidad", UserMemoryCapacityHandler(memory))
	mux.HandleFunc("GET /memoria/mapeos", MappingsHandler(memory))
	mux.HandleFunc("POST /memoria/dump", DumpHandler(memory, dumpPath))
}
