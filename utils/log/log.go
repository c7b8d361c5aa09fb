package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// InitLogger permite loguear tanto en consola como en archivo según el nivel que se le pase.
// Si el directorio del archivo no existe se crea.
//
// Parámetros:
//   - logPath: la ubicación donde se va a encontrar el archivo
//   - logLevel: nivel de logueo, este dato viene definido en el archivo de config.
//
// Ejemplo:
//
//	func main() {
//		log.InitLogger("./kernel.log", "INFO")
//	}
func InitLogger(logPath string, logLevel string) {
	logger, err := NewLogger(logPath, logLevel, os.Stdout)
	if logger == nil {
		panic(err)
	}

	slog.SetDefault(logger)

	// El nivel inválido no es fatal, se avisa y se sigue con INFO.
	if err != nil {
		slog.Warn(err.Error())
	}

	slog.Debug("Se ha configurado correctamente el logger y el archivo de configuración. ")
}

// NewLogger arma un logger que escribe en console y en el archivo logPath.
// Retorna un logger nil sólo si no se pudo abrir el archivo; si el nivel es
// desconocido retorna el logger en INFO junto con el error.
func NewLogger(logPath string, logLevel string, console io.Writer) (*slog.Logger, error) {
	if dir := filepath.Dir(logPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}

	multiWriter := io.MultiWriter(console, logFile)

	level, levelErr := ParseLevel(logLevel)

	handler := slog.NewTextHandler(multiWriter, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(handler), levelErr
}

// ParseLevel convierte el nivel de log del config al tipo slog.Level.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch levelStr {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("No existe %s, se coloca INFO por defecto. ", levelStr)
	}
}
