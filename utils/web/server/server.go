package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// InitServer levanta el servidor HTTP con el mux dado (nil usa http.DefaultServeMux).
// En caso de no poder levantarlo retorna el error.
//
// Parámetros:
//   - port: puerto donde se iniciará el servidor
//   - handler: rutas registradas del módulo
//
// Ejemplo:
//
//	func main() {
//		mux := http.NewServeMux()
//		if err := server.InitServer(kernelConfig.PortKernel, mux); err != nil {
//			panic(err)
//		}
//	}
func InitServer(port int, handler http.Handler) error {
	addr := ":" + strconv.Itoa(port)

	slog.Info("Servidor escuchando", "addr", addr)
	err := http.ListenAndServe(addr, handler)
	if err != nil {
		slog.Error("Error al escuchar en el puerto", "addr", addr, "error", err)
	}
	return err
}

// SendJsonResponse retorna la respuesta del servidor en formato JSON con status 200.
//
// Parámetros:
//   - writer: el http.ResponseWriter con el que se escribe la respuesta HTTP
//   - data: cualquier estructura de datos, se convierte automáticamente a JSON.
func SendJsonResponse(writer http.ResponseWriter, data interface{}) {
	sendJson(writer, http.StatusOK, data)
}

// ErrorResponse es el cuerpo de las respuestas con error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SendJsonError responde status con el mensaje del error en formato JSON.
func SendJsonError(writer http.ResponseWriter, status int, err error) {
	sendJson(writer, status, ErrorResponse{Error: err.Error()})
}

func sendJson(writer http.ResponseWriter, status int, data interface{}) {
	response, err := json.Marshal(data)
	if err != nil {
		http.Error(writer, "Error al convertir datos a JSON", http.StatusInternalServerError)
		return
	}

	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	writer.Write(response)
}
