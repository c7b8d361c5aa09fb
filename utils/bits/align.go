package bits

import "golang.org/x/exp/constraints"

// AlignUp redondea value hacia arriba al múltiplo de align más cercano.
// align tiene que ser potencia de dos.
//
// Ejemplo:
//
//	bits.AlignUp(uint64(4097), 4096) // 8192
func AlignUp[T constraints.Unsigned](value, align T) T {
	return (value + align - 1) &^ (align - 1)
}

// AlignDown redondea value hacia abajo al múltiplo de align más cercano.
func AlignDown[T constraints.Unsigned](value, align T) T {
	return value &^ (align - 1)
}

// IsAligned indica si value es múltiplo de align.
func IsAligned[T constraints.Unsigned](value, align T) bool {
	return value&(align-1) == 0
}

// IsPowerOfTwo indica si value es una potencia de dos distinta de cero.
func IsPowerOfTwo[T constraints.Unsigned](value T) bool {
	return value != 0 && value&(value-1) == 0
}

// DivRoundUp divide redondeando hacia arriba.
func DivRoundUp[T constraints.Integer](value, divisor T) T {
	return (value + divisor - 1) / divisor
}

// Max retorna el mayor entre a y b.
func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}
