package handlers

import (
	"net/http"

	"github.com/sisoputnfrba/tp-kosh/io/services"
	"github.com/sisoputnfrba/tp-kosh/utils/web/server"
)

// StatusHandler responde el estado del driver y cuántos pedidos atendió.
func StatusHandler(driver *services.Driver) func(http.ResponseWriter, *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		server.SendJsonResponse(writer, driver.Status())
	}
}
