package services

import (
	"log/slog"
	"sync"

	"github.com/sisoputnfrba/tp-kosh/cpu/models"
)

// ContextSwitcher simula el archivo de registros de la CPU: guarda el contexto
// del proceso saliente y carga el del entrante.
type ContextSwitcher struct {
	mu       sync.Mutex
	current  models.CpuContext
	switches uint64
}

func NewContextSwitcher() *ContextSwitcher {
	return &ContextSwitcher{current: models.NewCpuContext()}
}

// Switch copia los registros actuales en save (si no es nil) y carga next.
func (c *ContextSwitcher) Switch(save *models.CpuContext, next models.CpuContext) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if save != nil {
		*save = c.current
	}
	c.current = next
	c.switches++
	slog.Debug("Cambio de contexto", "rip", next.Rip, "rsp", next.Rsp, "modo_usuario", next.IsUserMode())
}

// Current retorna una copia de los registros cargados.
func (c *ContextSwitcher) Current() models.CpuContext {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.current
}

// Update modifica los registros cargados, simulando la ejecución del proceso actual.
func (c *ContextSwitcher) Update(apply func(*models.CpuContext)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	apply(&c.current)
}

// Switches retorna la cantidad de cambios de contexto realizados.
func (c *ContextSwitcher) Switches() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.switches
}
