package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sisoputnfrba/tp-kosh/io/models"
	kernelhandlers "github.com/sisoputnfrba/tp-kosh/kernel/handlers"
	kernelmodels "github.com/sisoputnfrba/tp-kosh/kernel/models"
	kernelservices "github.com/sisoputnfrba/tp-kosh/kernel/services"
	"github.com/sisoputnfrba/tp-kosh/utils/web/client"
)

// SyscallError es una syscall que el kernel respondió con errno distinto de 0.
type SyscallError struct {
	Number  kernelmodels.SyscallNumber
	Errno   int32
	Message string
}

func (e *SyscallError) Error() string {
	return fmt.Sprintf("syscall %s falló con errno %d: %s", e.Number.Name(), e.Errno, e.Message)
}

// isIdle indica que receive_message volvió sin mensajes.
func isIdle(err error) bool {
	var syscallErr *SyscallError
	if !errors.As(err, &syscallErr) {
		return false
	}
	return syscallErr.Errno == kernelservices.ETIMEDOUT || syscallErr.Errno == kernelservices.EAGAIN
}

// Driver es un proceso de espacio de usuario que atiende pedidos del kernel
// por IPC. Todas las operaciones viajan como syscalls HTTP.
type Driver struct {
	config models.Config
	mutex  sync.Mutex
	status models.DriverStatus
}

func NewDriver(name string, config models.Config) *Driver {
	return &Driver{config: config, status: models.DriverStatus{Name: name}}
}

func (d *Driver) Status() models.DriverStatus {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.status
}

func (d *Driver) pid() kernelmodels.ProcessID {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.status.PID
}

func (d *Driver) syscall(number kernelmodels.SyscallNumber, args [6]uint64, data string) (kernelmodels.SyscallResult, error) {
	request := kernelmodels.SyscallRequest{PID: d.pid(), Number: uint64(number), Args: args, Data: data}
	var result kernelmodels.SyscallResult
	if err := client.DoJsonRequest(d.config.PortKernel, d.config.IpKernel, "POST", "kernel/syscall", request, &result); err != nil {
		return result, err
	}
	if result.Errno != 0 {
		return result, &SyscallError{Number: number, Errno: result.Errno, Message: result.Error}
	}
	return result, nil
}

// Connect crea el proceso del driver como hijo de init y lo registra.
func (d *Driver) Connect() error {
	parent := kernelmodels.InitPID
	request := kernelhandlers.ProcessRequest{Name: d.status.Name, ParentPID: &parent, Priority: kernelmodels.PrioritySystem}
	var process struct {
		PID kernelmodels.ProcessID `json:"pid"`
	}
	if err := client.DoJsonRequest(d.config.PortKernel, d.config.IpKernel, "POST", "kernel/procesos", request, &process); err != nil {
		return fmt.Errorf("no se pudo crear el proceso del driver: %w", err)
	}
	d.mutex.Lock()
	d.status.PID = process.PID
	d.mutex.Unlock()

	result, err := d.syscall(kernelmodels.SysDriverRegister,
		[6]uint64{uint64(d.config.DriverType), d.config.CapabilityMask()}, d.status.Name)
	if err != nil {
		return err
	}

	d.mutex.Lock()
	d.status.Registered = true
	d.status.Granted = kernelmodels.CapabilityFlags(result.Value)
	d.mutex.Unlock()

	slog.Info(fmt.Sprintf("## Driver %s - Registrado en Kernel %s:%d - PID: %d - Permisos: %s",
		d.status.Name, d.config.IpKernel, d.config.PortKernel, process.PID, kernelmodels.CapabilityFlags(result.Value)))
	return nil
}

// Serve atiende pedidos hasta que se cancela ctx. Cada receive_message espera
// a lo sumo PollTimeoutMs, así que la cancelación se nota en ese plazo.
func (d *Driver) Serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := d.syscall(kernelmodels.SysReceiveMessage, [6]uint64{d.config.PollTimeoutMs}, "")
		if err != nil {
			if isIdle(err) {
				continue
			}
			return err
		}
		if result.Message != nil {
			d.handle(ctx, *result.Message)
		}
	}
}

func (d *Driver) handle(ctx context.Context, message kernelmodels.Message) {
	if message.Header.Type != kernelmodels.MessageDriverRequest {
		slog.Debug(fmt.Sprintf("Driver %s ignora un mensaje %s de PID %d", d.status.Name, message.Header.Type, message.Header.Sender))
		d.mutex.Lock()
		d.status.Ignored++
		d.mutex.Unlock()
		return
	}

	slog.Info(fmt.Sprintf("## PID: %d - Inicio de IO - Tiempo: %d", message.Header.Sender, d.config.ServiceTimeMs))
	select {
	case <-time.After(time.Duration(d.config.ServiceTimeMs) * time.Millisecond):
	case <-ctx.Done():
		return
	}

	if _, err := d.syscall(kernelmodels.SysDriverResponse, [6]uint64{uint64(message.Header.ID)}, "Fin de IO"); err != nil {
		slog.Error(fmt.Sprintf("No se pudo responder el pedido %d de PID %d: %v", message.Header.ID, message.Header.Sender, err))
		return
	}
	slog.Info(fmt.Sprintf("## PID: %d - Fin de IO", message.Header.Sender))

	d.mutex.Lock()
	d.status.Served++
	d.mutex.Unlock()
}

// Disconnect da de baja el driver y termina su proceso.
func (d *Driver) Disconnect() {
	if d.Status().Registered {
		if _, err := d.syscall(kernelmodels.SysDriverUnregister, [6]uint64{}, d.status.Name); err != nil {
			slog.Warn("No se pudo dar de baja el driver", "driver", d.status.Name, "error", err)
		}
		d.mutex.Lock()
		d.status.Registered = false
		d.mutex.Unlock()
	}
	if d.pid() == 0 {
		return
	}
	if _, err := d.syscall(kernelmodels.SysExit, [6]uint64{}, ""); err != nil {
		slog.Warn("No se pudo finalizar el proceso del driver", "pid", d.pid(), "error", err)
		return
	}
	slog.Info(fmt.Sprintf("## Driver %s desconectado del Kernel", d.status.Name))
}
