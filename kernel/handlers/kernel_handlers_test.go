package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sisoputnfrba/tp-kosh/kernel/models"
	"github.com/sisoputnfrba/tp-kosh/kernel/services"
	memmodels "github.com/sisoputnfrba/tp-kosh/memoria/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// processView evita depender de la decodificación de ProcessState.
type processView struct {
	PID       models.ProcessID  `json:"pid"`
	ParentPID *models.ProcessID `json:"parent_pid"`
	Name      string            `json:"name"`
	State     string            `json:"state"`
	Priority  string            `json:"priority"`
	ExitCode  *int32            `json:"exit_code"`
	Children  []models.ProcessID
}

type syscallView struct {
	Value uint64 `json:"value"`
	Errno int32  `json:"errno"`
	Error string `json:"error"`
}

func newTestServer(t *testing.T) (*httptest.Server, *services.Kernel) {
	config := models.DefaultConfig()
	config.MaxProcesses = 8
	config.Memory.MemorySize = 8 * 1024 * 1024
	config.Memory.HeapPages = 16
	kernel, err := services.NewKernel(config, services.NewManualClock(0))
	require.NoError(t, err)
	_, err = kernel.Boot()
	require.NoError(t, err)

	mux := http.NewServeMux()
	RegisterHandlers(mux, kernel)
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		_ = kernel.Shutdown()
	})
	return server, kernel
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

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		models.ErrProcessNotFound:                       http.StatusNotFound,
		models.ErrPermissionDenied:                      http.StatusForbidden,
		models.ErrDriverAlreadyExists:                   http.StatusConflict,
		models.ErrProcessTableFull:                      http.StatusServiceUnavailable,
		models.ErrTimeout:                               http.StatusGatewayTimeout,
		models.ErrNotSupported:                          http.StatusNotImplemented,
		models.ErrInvalidArgument:                       http.StatusBadRequest,
		memmodels.ErrAddressSpaceNotFound:               http.StatusNotFound,
		errors.New("cualquier otra cosa"):               http.StatusBadRequest,
		fmt.Errorf("envuelto: %w", models.ErrQueueFull): http.StatusServiceUnavailable,
	}
	for err, expected := range cases {
		assert.Equal(t, expected, StatusFor(err), err.Error())
	}
}

func TestCreateAndListProcesses(t *testing.T) {
	server, _ := newTestServer(t)
	parent := models.InitPID

	var created processView
	status := postJson(t, server.URL+"/kernel/procesos", ProcessRequest{Name: "shell", ParentPID: &parent, Priority: models.PriorityInteractive}, &created)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.ProcessID(2), created.PID)
	assert.Equal(t, "INTERACTIVE", created.Priority)
	assert.Equal(t, "READY", created.State)
	require.NotNil(t, created.ParentPID)
	assert.Equal(t, models.InitPID, *created.ParentPID)

	var processes []processView
	getJson(t, server.URL+"/kernel/procesos", &processes)
	assert.Len(t, processes, 2)

	var one processView
	status = getJson(t, server.URL+"/kernel/procesos?pid=2", &one)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "shell", one.Name)

	assert.Equal(t, http.StatusNotFound, getJson(t, server.URL+"/kernel/procesos?pid=42", nil))
	assert.Equal(t, http.StatusBadRequest, getJson(t, server.URL+"/kernel/procesos?pid=abc", nil))
}

func TestCreateProcessErrors(t *testing.T) {
	server, _ := newTestServer(t)
	missing := models.ProcessID(99)

	assert.Equal(t, http.StatusBadRequest, postJson(t, server.URL+"/kernel/procesos", ProcessRequest{}, nil))
	assert.Equal(t, http.StatusNotFound,
		postJson(t, server.URL+"/kernel/procesos", ProcessRequest{Name: "orphan", ParentPID: &missing}, nil))

	response, err := http.Post(server.URL+"/kernel/procesos", "application/json", bytes.NewReader([]byte(`{"name":"x","priority":"urgent"}`)))
	require.NoError(t, err)
	response.Body.Close()
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
}

func TestFinishAndReapProcess(t *testing.T) {
	server, kernel := newTestServer(t)
	parent := models.InitPID
	pid, err := kernel.CreateProcess("worker", &parent, models.PriorityNormal)
	require.NoError(t, err)

	var finished processView
	status := postJson(t, server.URL+"/kernel/procesos/finalizar", FinishRequest{PID: pid, ExitCode: 3}, &finished)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ZOMBIE", finished.State)
	require.NotNil(t, finished.ExitCode)
	assert.Equal(t, int32(3), *finished.ExitCode)

	var reaped []models.ProcessID
	postJson(t, server.URL+"/kernel/procesos/cosechar", nil, &reaped)
	assert.Equal(t, []models.ProcessID{pid}, reaped)

	postJson(t, server.URL+"/kernel/procesos/cosechar", nil, &reaped)
	assert.Empty(t, reaped)
	assert.Equal(t, http.StatusNotFound, postJson(t, server.URL+"/kernel/procesos/finalizar", FinishRequest{PID: pid}, nil))
}

func TestSchedulerHandlers(t *testing.T) {
	server, kernel := newTestServer(t)
	parent := models.InitPID
	other, err := kernel.CreateProcess("other", &parent, models.PriorityNormal)
	require.NoError(t, err)

	var scheduled ScheduleResponse
	postJson(t, server.URL+"/kernel/tick", TickRequest{ElapsedMs: models.DefaultTimeSliceMs}, &scheduled)
	require.NotNil(t, scheduled.PID)
	assert.Equal(t, other, *scheduled.PID)

	var settings struct {
		Algorithm   string `json:"algorithm"`
		TimeSliceMs uint64 `json:"time_slice_ms"`
	}
	status := postJson(t, server.URL+"/kernel/planificador", SchedulerRequest{Algorithm: "cfs", TimeSliceMs: 25}, &settings)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "CFS", settings.Algorithm)
	assert.Equal(t, uint64(25), settings.TimeSliceMs)

	getJson(t, server.URL+"/kernel/planificador", &settings)
	assert.Equal(t, "CFS", settings.Algorithm)

	assert.Equal(t, http.StatusBadRequest, postJson(t, server.URL+"/kernel/planificador", SchedulerRequest{Algorithm: "LOTTERY"}, nil))

	postJson(t, server.URL+"/kernel/planificar", nil, &scheduled)
	assert.NotNil(t, scheduled.PID)
}

func TestSyscallHandler(t *testing.T) {
	server, _ := newTestServer(t)

	var result syscallView
	status := postJson(t, server.URL+"/kernel/syscall",
		models.SyscallRequest{PID: models.InitPID, Number: uint64(models.SysGetPID)}, &result)
	require.Equal(t, http.StatusOK, status)
	assert.Zero(t, result.Errno)
	assert.Equal(t, uint64(models.InitPID), result.Value)

	status = postJson(t, server.URL+"/kernel/syscall",
		models.SyscallRequest{PID: models.InitPID, Number: 999}, &result)
	assert.Equal(t, http.StatusOK, status)
	assert.NotZero(t, result.Errno)
	assert.NotEmpty(t, result.Error)

	response, err := http.Post(server.URL+"/kernel/syscall", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	response.Body.Close()
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
}

func TestIntrospectionHandlers(t *testing.T) {
	server, kernel := newTestServer(t)
	parent := models.InitPID
	driver, err := kernel.CreateProcess("disk", &parent, models.PrioritySystem)
	require.NoError(t, err)
	_, err = kernel.Drivers.Register(driver, "disk0", models.DriverTypeStorage,
		[]models.DriverCapabilityType{{Kind: models.DriverIpc}}, nil)
	require.NoError(t, err)

	var stats map[string]any
	assert.Equal(t, http.StatusOK, getJson(t, server.URL+"/kernel/stats", &stats))
	assert.Contains(t, stats, "processes")

	var capabilities []map[string]any
	assert.Equal(t, http.StatusOK, getJson(t, server.URL+fmt.Sprintf("/kernel/capacidades?pid=%d", driver), &capabilities))
	assert.NotEmpty(t, capabilities)
	getJson(t, server.URL+"/kernel/capacidades?pid=77", &capabilities)
	assert.Empty(t, capabilities)
	assert.Equal(t, http.StatusBadRequest, getJson(t, server.URL+"/kernel/capacidades", nil))

	var drivers []map[string]any
	getJson(t, server.URL+"/kernel/drivers", &drivers)
	require.Len(t, drivers, 1)
	assert.Equal(t, "disk0", drivers[0]["name"])

	assert.Equal(t, http.StatusOK, getJson(t, server.URL+"/kernel/ipc", nil))
	assert.Equal(t, http.StatusOK, getJson(t, server.URL+"/kernel/ipc?pid=1", nil))
	assert.Equal(t, http.StatusNotFound, getJson(t, server.URL+"/kernel/ipc?pid=77", nil))
}
