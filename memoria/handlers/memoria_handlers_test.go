package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/sisoputnfrba/tp-kosh/memoria/models"
	"github.com/sisoputnfrba/tp-kosh/memoria/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *services.MemoryManager, string) {
	config := models.DefaultConfig()
	config.MemorySize = 8 * 1024 * 1024
	config.SwapDevices = []models.SwapConfig{{Type: "memory", Path: "ram0", SizeMB: 1, Enabled: true}}
	memory, err := services.NewMemoryManager(config)
	require.NoError(t, err)

	dumpPath := t.TempDir()
	mux := http.NewServeMux()
	RegisterHandlers(mux, memory, dumpPath)
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		memory.Close()
	})
	return server, memory, dumpPath
}

func getJson(t *testing.T, url string, out any) int {
	response, err := http.Get(url)
	require.NoError(t, err)
	defer response.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(response.Body).Decode(out))
	}
	return response.StatusCode
}

func TestMemoryStatsHandler(t *testing.T) {
	server, _, _ := newTestServer(t)

	var snapshot services.MemorySnapshot
	status := getJson(t, server.URL+"/memoria/stats", &snapshot)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2048, snapshot.Frames.TotalPages)
	assert.Equal(t, 1, snapshot.AddressSpaces)
	assert.Equal(t, "LRU", snapshot.Swapper.Algorithm)
}

func TestHeapHandler(t *testing.T) {
	server, memory, _ := newTestServer(t)
	_, err := memory.Heap().Allocate(models.Layout{Size: 64})
	require.NoError(t, err)

	var response struct {
		Blocks []models.HeapBlockInfo `json:"blocks"`
		Valid  bool                   `json:"valid"`
	}
	getJson(t, server.URL+"/memoria/heap", &response)

	assert.True(t, response.Valid)
	assert.Len(t, response.Blocks, 2)
}

func TestSwapHandlers(t *testing.T) {
	server, _, _ := newTestServer(t)

	var swap SwapResponse
	getJson(t, server.URL+"/memoria/swap", &swap)
	require.Len(t, swap.Devices, 1)
	assert.Equal(t, "ram0", swap.Devices[0].Name)
	assert.Equal(t, 256, swap.Stats.TotalSlots)

	body, _ := json.Marshal(AlgorithmRequest{Algorithm: "FIFO"})
	response, err := http.Post(server.URL+"/memoria/swap/algoritmo", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var stats models.SwapperStats
	require.NoError(t, json.NewDecoder(response.Body).Decode(&stats))
	response.Body.Close()
	assert.Equal(t, "FIFO", stats.Algorithm)

	body, _ = json.Marshal(AlgorithmRequest{Algorithm: "OPT"})
	response, err = http.Post(server.URL+"/memoria/swap/algoritmo", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	response.Body.Close()
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
}

func TestMappingsHandler(t *testing.T) {
	server, memory, _ := newTestServer(t)
	asid, err := memory.CreateAddressSpace()
	require.NoError(t, err)
	require.NoError(t, memory.AllocatePages(asid, 0x400000, 2, models.ProtUserRW))

	var response struct {
		Mappings []models.Mapping `json:"mappings"`
	}
	status := getJson(t, server.URL+"/memoria/mapeos?asid=1", &response)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, response.Mappings, 2)

	assert.Equal(t, http.StatusNotFound, getJson(t, server.URL+"/memoria/mapeos?asid=9", nil))
	assert.Equal(t, http.StatusBadRequest, getJson(t, server.URL+"/memoria/mapeos?asid=x", nil))
}

func TestDumpHandler(t *testing.T) {
	server, _, dumpPath := newTestServer(t)

	response, err := http.Post(server.URL+"/memoria/dump", "application/json", nil)
	require.NoError(t, err)
	defer response.Body.Close()

	var dump DumpResponse
	require.NoError(t, json.NewDecoder(response.Body).Decode(&dump))
	assert.FileExists(t, dump.Path)
	entries, err := os.ReadDir(dumpPath)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(models.ErrAddressSpaceNotFound))
	assert.Equal(t, http.StatusNotFound, StatusFor(&models.MapError{Addr: 0x1000, Err: models.ErrPageNotMapped}))
	assert.Equal(t, http.StatusInsufficientStorage, StatusFor(models.ErrOutOfMemory))
	assert.Equal(t, http.StatusForbidden, StatusFor(models.ErrAccessViolation))
	assert.Equal(t, http.StatusBadRequest, StatusFor(errors.New("otro")))
}

func postJson(t *testing.T, url string, body any, out any) int {
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	response, err := http.Post(url, "application/json", bytes.NewReader(encoded))
	require.NoError(t, err)
	defer response.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(response.Body).Decode(out))
	}
	return response.StatusCode
}

func TestSwapOutHandler(t *testing.T) {
	server, memory, _ := newTestServer(t)
	asid, err := memory.CreateAddressSpace()
	require.NoError(t, err)
	require.NoError(t, memory.AllocatePages(asid, 0x400000, 3, models.ProtUserRW))

	var swapOut SwapOutResponse
	status := postJson(t, server.URL+"/memoria/swap/desalojar", SwapOutRequest{Count: 2}, &swapOut)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, swapOut.Swapped)
	assert.Empty(t, swapOut.Error)
	assert.Equal(t, uint64(2), swapOut.Swapper.PagesSwappedOut)
	assert.Equal(t, 2, memory.Swap().Stats().UsedSlots)

	assert.Equal(t, http.StatusBadRequest, postJson(t, server.URL+"/memoria/swap/desalojar", SwapOutRequest{}, nil))

	var pressure SwapOutResponse
	postJson(t, server.URL+"/memoria/swap/presion", nil, &pressure)
	assert.Zero(t, pressure.Swapped)
}

func TestUserMemoryCapacityHandler(t *testing.T) {
	server, _, _ := newTestServer(t)

	var capacity CapacityResponse
	status := postJson(t, server.URL+"/memoria/capacidad", CapacityRequest{Size: 4097}, &capacity)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, uint64(2), capacity.Pages)
	assert.True(t, capacity.Fits)
	assert.Positive(t, capacity.FreePages)

	postJson(t, server.URL+"/memoria/capacidad", CapacityRequest{Size: 1 << 40}, &capacity)
	assert.False(t, capacity.Fits)

	assert.Equal(t, http.StatusBadRequest, postJson(t, server.URL+"/memoria/capacidad", CapacityRequest{}, nil))
}
