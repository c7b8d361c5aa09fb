//go:build !linux

package services

func mapArena(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapArena(data []byte) error {
	return nil
}

func releaseArena(data []byte) error {
	clear(data)
	return nil
}
