package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Para su uso se debe posicionar en la carpeta scripts
// > ./update_config port_kernel 9001
// > ./update_config ip_kernel 192.168.1.102 memory.swap_algorithm CLOCK
// Las claves anidadas se separan con punto.

var modules = []string{"io", "kernel", "memoria"}

func main() {
	// Los argumentos vienen en pares: clave1 valor1 clave2 valor2 ...
	if len(os.Args) < 3 || len(os.Args)%2 != 1 {
		fmt.Println("Uso: update_config <clave_1> <valor_1> [<clave_2> <valor_2> ...]")
		fmt.Println("Ejemplo: update_config ip_kernel 192.168.0.20 memory.swap_algorithm LFU")
		return
	}

	updates := ParseUpdates(os.Args[1:])
	fmt.Println("Valores a actualizar:")
	for key, value := range updates {
		fmt.Printf("  %s: %v\n", key, value)
	}

	for _, module := range modules {
		moduleConfigPath := filepath.Join("..", module, "configs")
		fmt.Printf("\nProcesando módulo: %s (en %s)\n", module, moduleConfigPath)

		updated, err := UpdateConfigs(moduleConfigPath, updates)
		if err != nil {
			fmt.Printf("Error al buscar archivos en la carpeta %s: %v\n", moduleConfigPath, err)
			continue
		}
		for _, path := range updated {
			fmt.Printf("  El archivo %s ha sido actualizado correctamente.\n", path)
		}
	}

	fmt.Println("\nProceso de actualización de configuraciones finalizado.")
}

// ParseUpdates arma el mapa clave/valor a partir de pares de argumentos. Los
// valores que son JSON válido (números, booleanos) conservan su tipo; el resto
// queda como string.
func ParseUpdates(args []string) map[string]any {
	updates := make(map[string]any)
	for i := 0; i+1 < len(args); i += 2 {
		var parsed any
		if err := json.Unmarshal([]byte(args[i+1]), &parsed); err != nil {
			parsed = args[i+1]
		}
		updates[args[i]] = parsed
	}
	return updates
}

// UpdateConfigs aplica updates a cada .json bajo dir y retorna los archivos
// modificados. Sólo se reemplazan claves que ya existen en el archivo.
func UpdateConfigs(dir string, updates map[string]any) ([]string, error) {
	var updated []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		modified, err := updateFile(path, updates)
		if err != nil {
			fmt.Printf("  Error al actualizar %s: %v\n", path, err)
			return nil
		}
		if modified {
			updated = append(updated, path)
		}
		return nil
	})
	return updated, err
}

func updateFile(path string, updates map[string]any) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	var data map[string]any
	if err := json.Unmarshal(content, &data); err != nil {
		return false, err
	}

	modified := false
	for key, value := range updates {
		if setKey(data, strings.Split(key, "."), value) {
			fmt.Printf("    Modificada '%s' en %s a '%v'\n", key, path, value)
			modified = true
		}
	}
	if !modified {
		return false, nil
	}

	newJSON, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return false, err
	}
	return true, os.WriteFile(path, append(newJSON, '\n'), 0644)
}

func setKey(data map[string]any, path []string, value any) bool {
	current, ok := data[path[0]]
	if !ok {
		return false
	}
	if len(path) == 1 {
		data[path[0]] = value
		return true
	}
	nested, ok := current.(map[string]any)
	if !ok {
		return false
	}
	return setKey(nested, path[1:], value)
}
