package helpers

import (
	"fmt"
	"log/slog"
	"os"
	"time"
)

// CreateDirectory crea un directorio en el path especificado.
func CreateDirectory(dir string) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		slog.Error(fmt.Sprintf("Error al crear el directorio %s: %v", dir, err))
		return err
	}

	slog.Debug(fmt.Sprintf("Directorio %s creado o ya existía.", dir))
	return nil
}

// GetDumpName arma el nombre del archivo de dump con la fecha y hora actual.
func GetDumpName(prefix string) string {
	timestamp := time.Now().Format("20060102-150405.000")
	return fmt.Sprintf("%s-%s.dmp", prefix, timestamp)
}
