package services

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/sisoputnfrba/tp-kosh/kernel/helpers"
	"github.com/sisoputnfrba/tp-kosh/kernel/models"
)

// DriverService registra los procesos que actúan como drivers y encamina
// pedidos hacia ellos por IPC.
type DriverService struct {
	drivers      *helpers.DriverMap
	table        *ProcessTable
	capabilities *CapabilityManager
	ipc          *IPCService
}

func NewDriverService(table *ProcessTable, capabilities *CapabilityManager, ipc *IPCService) *DriverService {
	return &DriverService{
		drivers:      helpers.NewDriverMap(),
		table:        table,
		capabilities: capabilities,
		ipc:          ipc,
	}
}

// Register da de alta el driver name del proceso pid. Cada capacidad requerida
// exige que pid tenga los tipos de capacidad del kernel que le corresponden
// sobre el dispositivo name.
func (s *DriverService) Register(pid models.ProcessID, name string, driverType models.DriverType, required, provided []models.DriverCapabilityType) (models.DriverInfo, error) {
	if name == "" {
		return models.DriverInfo{}, fmt.Errorf("%w: driver sin nombre", models.ErrInvalidArgument)
	}
	if !s.table.Exists(pid) {
		return models.DriverInfo{}, fmt.Errorf("%w: PID %d", models.ErrProcessNotFound, pid)
	}
	if err := models.ValidateDriverCapabilities(required, driverType); err != nil {
		return models.DriverInfo{}, err
	}

	var granted models.CapabilityFlags
	for _, capability := range required {
		for _, capabilityType := range capability.KernelCapabilityTypes() {
			if !s.capabilities.Check(pid, capabilityType, models.DeviceResource(name)) {
				slog.Warn(fmt.Sprintf("## PID %d no puede registrar el driver %s - Falta %s", pid, name, capabilityType))
				return models.DriverInfo{}, fmt.Errorf("%w: %s requiere %s", models.ErrPermissionDenied, capability, capabilityType)
			}
		}
		granted = granted.Union(capability.Flags())
	}

	driver := models.DriverInfo{
		PID:      pid,
		Name:     name,
		Type:     driverType,
		Required: slices.Clone(required),
		Provided: slices.Clone(provided),
		Granted:  granted,
	}
	if !s.drivers.SetIfAbsent(name, driver) {
		return models.DriverInfo{}, fmt.Errorf("%w: %s", models.ErrDriverAlreadyExists, name)
	}

	slog.Info(fmt.Sprintf("## PID %d Registra el driver %s - Tipo: %s - Permisos: %s", pid, name, driverType, granted))
	s.drivers.Log()
	return driver, nil
}

// Unregister da de baja el driver name. Sólo puede hacerlo el proceso que lo registró.
func (s *DriverService) Unregister(pid models.ProcessID, name string) error {
	driver, found := s.drivers.Get(name)
	if !found {
		return fmt.Errorf("%w: %s", models.ErrDriverNotRegistered, name)
	}
	if driver.PID != pid {
		return fmt.Errorf("%w: el driver %s pertenece a PID %d", models.ErrPermissionDenied, name, driver.PID)
	}
	s.drivers.Delete(name)
	slog.Info(fmt.Sprintf("## PID %d Da de baja el driver %s", pid, name))
	s.drivers.Log()
	return nil
}

func (s *DriverService) Get(name string) (models.DriverInfo, bool) {
	return s.drivers.Get(name)
}

func (s *DriverService) List() []models.DriverInfo {
	return s.drivers.GetAll()
}

// Request envía data al driver name como DriverRequest.
func (s *DriverService) Request(requester models.ProcessID, name string, data models.MessageData) (models.MessageID, error) {
	driver, found := s.drivers.Get(name)
	if !found {
		return 0, fmt.Errorf("%w: %s", models.ErrDriverNotRegistered, name)
	}
	return s.ipc.Send(models.NewMessage(requester, driver.PID, models.MessageDriverRequest, data))
}

// Respond contesta el pedido requestID. pid tiene que tener algún driver registrado.
func (s *DriverService) Respond(pid models.ProcessID, requestID models.MessageID, data models.MessageData) (models.MessageID, error) {
	owns := slices.ContainsFunc(s.drivers.GetAll(), func(driver models.DriverInfo) bool {
		return driver.PID == pid
	})
	if !owns {
		return 0, fmt.Errorf("%w: PID %d no tiene drivers", models.ErrDriverNotRegistered, pid)
	}
	return s.ipc.Reply(pid, requestID, data)
}

// ForgetProcess da de baja los drivers de un proceso que terminó.
func (s *DriverService) ForgetProcess(pid models.ProcessID) {
	for _, name := range s.drivers.DeleteOwnedBy(pid) {
		slog.Info(fmt.Sprintf("## Driver %s dado de baja por fin del PID %d", name, pid))
	}
}
