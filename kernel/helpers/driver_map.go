package helpers

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/sisoputnfrba/tp-kosh/kernel/models"
	"golang.org/x/exp/maps"
)

// DriverMap guarda los drivers registrados por nombre.
type DriverMap struct {
	mx sync.Mutex
	M  map[string]models.DriverInfo
}

func NewDriverMap() *DriverMap {
	return &DriverMap{M: make(map[string]models.DriverInfo)}
}

// SetIfAbsent registra value bajo key si no había otro. Retorna false si ya existía.
func (sMap *DriverMap) SetIfAbsent(key string, value models.DriverInfo) bool {
	sMap.mx.Lock()
	defer sMap.mx.Unlock()

	if _, exists := sMap.M[key]; exists {
		return false
	}
	sMap.M[key] = value
	return true
}

func (sMap *DriverMap) Delete(key string) (models.DriverInfo, bool) {
	sMap.mx.Lock()
	defer sMap.mx.Unlock()

	driver, found := sMap.M[key]
	delete(sMap.M, key)
	return driver, found
}

func (sMap *DriverMap) Get(key string) (models.DriverInfo, bool) {
	sMap.mx.Lock()
	defer sMap.mx.Unlock()

	driver, found := sMap.M[key]
	return driver, found
}

// DeleteOwnedBy quita los drivers registrados por pid y retorna sus nombres.
func (sMap *DriverMap) DeleteOwnedBy(pid models.ProcessID) []string {
	sMap.mx.Lock()
	defer sMap.mx.Unlock()

	var removed []string
	for key, driver := range sMap.M {
		if driver.PID == pid {
			delete(sMap.M, key)
			removed = append(removed, key)
		}
	}
	slices.Sort(removed)
	return removed
}

// GetAll retorna los drivers ordenados por nombre.
func (sMap *DriverMap) GetAll() []models.DriverInfo {
	sMap.mx.Lock()
	defer sMap.mx.Unlock()

	keys := maps.Keys(sMap.M)
	slices.Sort(keys)
	drivers := make([]models.DriverInfo, 0, len(keys))
	for _, key := range keys {
		drivers = append(drivers, sMap.M[key])
	}
	return drivers
}

// Log vuelca los drivers registrados en el log de debug.
func (sMap *DriverMap) Log() {
	drivers := sMap.GetAll()
	if len(drivers) == 0 {
		slog.Debug("No hay drivers registrados.")
		return
	}

	slog.Debug("Drivers registrados:")
	for _, driver := range drivers {
		slog.Debug(fmt.Sprintf("- Nombre: %s, PID: %d, Tipo: %s, Permisos: %s", driver.Name, driver.PID, driver.Type, driver.Granted))
	}
}
