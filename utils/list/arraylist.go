package list

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrEmptyList se retorna al sacar elementos de una lista vacía.
var ErrEmptyList = errors.New("la lista está vacía")

// List define las operaciones de una lista genérica segura para goroutines.
type List[T any] interface {
	Add(item T)                                   // Añadir un elemento al final de la lista
	Dequeue() (T, error)                          // Eliminar y devolver el primer elemento de la lista
	Find(predicate func(T) bool) (T, int, bool)   // Buscar un elemento dado un predicado
	FindAll(predicate func(T) bool) *ArrayList[T] // Todos los elementos que cumplen el predicado
	ForEach(callback func(T))                     // Aplicar callback a cada elemento
	Get(index int) (T, error)                     // Obtener el elemento de un índice
	GetAll() []T                                  // Copia de todos los elementos
	Insert(index int, item T) error               // Insertar en el índice dado
	Pop() (T, error)                              // Remover el último elemento
	Remove(index int)                             // Eliminar el elemento del índice dado
	RemoveWhere(match func(T) bool) bool          // Eliminar el primer elemento que cumpla match
	Size() int                                    // Tamaño de la lista
	Sort(less func(a, b T) bool)                  // Ordenar de forma estable
	Clear()                                       // Vaciar la lista
}

// ArrayList implementa List sobre un slice protegido por un RWMutex.
// El valor cero está listo para usarse.
type ArrayList[T any] struct {
	mu    sync.RWMutex
	items []T
}

// NewArrayList crea una lista con los elementos iniciales dados.
func NewArrayList[T any](items ...T) *ArrayList[T] {
	return &ArrayList[T]{items: slices.Clone(items)}
}

// Add inserta un elemento al final de la lista.
//
// Ejemplo:
//
//	func main() {
//		children := &list.ArrayList[models.ProcessID]{}
//		children.Add(2)
//	}
func (list *ArrayList[T]) Add(item T) {
	list.mu.Lock()
	defer list.mu.Unlock()

	list.items = append(list.items, item)
}

// Dequeue elimina y devuelve el primer elemento.
// Si la lista está vacía retorna el valor cero de T y ErrEmptyList.
func (list *ArrayList[T]) Dequeue() (T, error) {
	list.mu.Lock()
	defer list.mu.Unlock()

	if len(list.items) == 0 {
		var zero T
		return zero, ErrEmptyList
	}
	value := list.items[0]
	list.items = slices.Delete(list.items, 0, 1)
	return value, nil
}

// Find busca el primer elemento que cumple el predicado y retorna también su índice.
func (list *ArrayList[T]) Find(predicate func(T) bool) (T, int, bool) {
	list.mu.RLock()
	defer list.mu.RUnlock()

	for i, item := range list.items {
		if predicate(item) {
			return item, i, true
		}
	}
	var zero T
	return zero, -1, false
}

// FindAll retorna una nueva lista con los elementos que cumplen el predicado.
func (list *ArrayList[T]) FindAll(predicate func(T) bool) *ArrayList[T] {
	list.mu.RLock()
	defer list.mu.RUnlock()

	filtered := &ArrayList[T]{}
	for _, item := range list.items {
		if predicate(item) {
			filtered.items = append(filtered.items, item)
		}
	}
	return filtered
}

// ForEach aplica callback a cada elemento. callback no debe modificar la lista.
func (list *ArrayList[T]) ForEach(callback func(T)) {
	list.mu.RLock()
	defer list.mu.RUnlock()

	for _, item := range list.items {
		callback(item)
	}
}

// Get devuelve el elemento del índice dado.
func (list *ArrayList[T]) Get(index int) (T, error) {
	list.mu.RLock()
	defer list.mu.RUnlock()

	if index < 0 || index >= len(list.items) {
		var zero T
		return zero, fmt.Errorf("índice fuera de rango: %d", index)
	}
	return list.items[index], nil
}

// GetAll retorna una copia de los elementos para que modificaciones externas no afecten la lista.
func (list *ArrayList[T]) GetAll() []T {
	list.mu.RLock()
	defer list.mu.RUnlock()

	return slices.Clone(list.items)
}

// Insert inserta item en el índice dado. index puede ser igual al tamaño (agrega al final).
func (list *ArrayList[T]) Insert(index int, item T) error {
	list.mu.Lock()
	defer list.mu.Unlock()

	if index < 0 || index > len(list.items) {
		return fmt.Errorf("índice fuera de rango: %d", index)
	}
	list.items = slices.Insert(list.items, index, item)
	return nil
}

// Pop remueve el último elemento y lo devuelve.
func (list *ArrayList[T]) Pop() (T, error) {
	list.mu.Lock()
	defer list.mu.Unlock()

	if len(list.items) == 0 {
		var zero T
		return zero, ErrEmptyList
	}
	lastIndex := len(list.items) - 1
	item := list.items[lastIndex]
	list.items = list.items[:lastIndex]
	return item, nil
}

// Remove elimina el elemento del índice dado. Un índice inválido se ignora.
func (list *ArrayList[T]) Remove(index int) {
	list.mu.Lock()
	defer list.mu.Unlock()

	if index >= 0 && index < len(list.items) {
		list.items = slices.Delete(list.items, index, index+1)
	}
}

// RemoveWhere elimina el primer elemento que cumple match. Retorna si eliminó alguno.
func (list *ArrayList[T]) RemoveWhere(match func(T) bool) bool {
	list.mu.Lock()
	defer list.mu.Unlock()

	index := slices.IndexFunc(list.items, match)
	if index < 0 {
		return false
	}
	list.items = slices.Delete(list.items, index, index+1)
	return true
}

// Size devuelve el tamaño de la lista.
func (list *ArrayList[T]) Size() int {
	list.mu.RLock()
	defer list.mu.RUnlock()

	return len(list.items)
}

// Sort ordena la lista según less manteniendo el orden relativo de los iguales.
//
// Ejemplo:
//
//	func main() {
//		numbers := list.NewArrayList(40, 20, 30, 10)
//		numbers.Sort(func(a, b int) bool { return a < b }) //[10, 20, 30, 40]
//	}
func (list *ArrayList[T]) Sort(less func(a, b T) bool) {
	list.mu.Lock()
	defer list.mu.Unlock()

	slices.SortStableFunc(list.items, func(a, b T) int {
		switch {
		case less(a, b):
			return -1
		case less(b, a):
			return 1
		default:
			return 0
		}
	})
}

// Clear vacía la lista.
func (list *ArrayList[T]) Clear() {
	list.mu.Lock()
	defer list.mu.Unlock()

	list.items = nil
}
