package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// InitConfig lee el archivo de configuración y carga sus valores en config.
// Si el archivo no existe o no se puede decodificar finaliza con panic, por lo que
// sólo debe usarse al arrancar un módulo.
//
// Parámetros:
//   - filePath: ubicación del archivo de configuración
//   - config: puntero a la estructura donde se cargan los valores
//
// Ejemplo:
//
//	func main() {
//		var kernelConfig models.Config
//		config.InitConfig("./configs/kernel.json", &kernelConfig)
//	}
func InitConfig(filePath string, config interface{}) {
	if err := LoadConfig(filePath, config); err != nil {
		panic(err)
	}
}

// LoadConfig es igual a InitConfig pero retorna el error en lugar de finalizar.
// Los campos desconocidos del JSON se rechazan para detectar errores de tipeo.
func LoadConfig(filePath string, config interface{}) error {
	if err := setupConfig(filePath, config); err != nil {
		return fmt.Errorf("error al configurar el archivo %s: %w", filePath, err)
	}
	return nil
}

func setupConfig(filePath string, config interface{}) error {
	configFile, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer configFile.Close()

	jsonParser := json.NewDecoder(configFile)
	jsonParser.DisallowUnknownFields()

	return jsonParser.Decode(config)
}
