package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/functions"
	"github.com/orquesta/orquesta/id"
)

func (a *API) info(c *gin.Context) {
	c.JSON(http.StatusOK, InfoResponse{
		Nombre:      "API Ejemplo Orquesta",
		Descripcion: "Material educativo sobre jobs y colas de trabajo",
		Endpoints: map[string]string{
			"info":           "GET /",
			"health":         "GET /health",
			"chatId":         "GET /api/obtener-chat-id",
			"notificar":      "POST /api/notificar",
			"procesarPedido": "POST /api/procesar-pedido",
			"usuarioNuevo":   "POST /api/usuario-nuevo",
		},
	})
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: a.now().UTC().Format(time.RFC3339Nano),
	})
}

func (a *API) obtenerChatID(c *gin.Context) {
	updates, err := a.poller.FetchRecent(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Error obteniendo actualizaciones",
			Detalle: err.Error(),
		})
		return
	}

	if len(updates) == 0 {
		c.JSON(http.StatusOK, ChatIDResponse{
			Mensaje: "No hay mensajes. Envía un mensaje a tu bot primero.",
			Instrucciones: []string{
				"1. Busca tu bot en Telegram",
				"2. Envía cualquier mensaje",
				"3. Recarga esta página",
			},
		})
		return
	}

	datos := make([]ChatInfo, 0, len(updates))
	for _, u := range updates {
		var info ChatInfo
		if u.Message != nil {
			info.Mensaje = u.Message.Text
			if chat := u.Message.Chat; chat != nil {
				chatID := chat.ID
				info.ChatID = &chatID
				info.Nombre = chat.FirstName
				info.Username = chat.Username
			}
		}
		datos = append(datos, info)
	}
	c.JSON(http.StatusOK, ChatIDResponse{
		Mensaje:       "Chat IDs encontrados",
		Datos:         datos,
		Instrucciones: "Copia el chatId y añádelo a tu archivo .env como TELEGRAM_CHAT_ID",
	})
}

func (a *API) notificar(c *gin.Context) {
	var req NotificarRequest
	if !bindBody(c, &req) {
		return
	}
	if req.Mensaje == "" {
		a.abort(c, &orquesta.ValidationError{Field: "mensaje"})
		return
	}
	a.emit(c, functions.EventNotificacion, functions.NotificacionInput{Mensaje: req.Mensaje},
		EventAck{Mensaje: "Evento enviado al motor de workflows"})
}

func (a *API) procesarPedido(c *gin.Context) {
	var req ProcesarPedidoRequest
	if !bindBody(c, &req) {
		return
	}
	if req.PedidoID == "" || req.Items == nil {
		field := "pedidoId"
		if req.PedidoID != "" {
			field = "items"
		}
		a.abort(c, &orquesta.ValidationError{
			Field:   field,
			Message: `Los campos "pedidoId" e "items" son requeridos`,
		})
		return
	}
	a.emit(c, functions.EventPedido, functions.PedidoInput{PedidoID: req.PedidoID, Items: req.Items},
		EventAck{Mensaje: "Pedido enviado a procesamiento", PedidoID: string(req.PedidoID)})
}

func (a *API) usuarioNuevo(c *gin.Context) {
	var req UsuarioNuevoRequest
	if !bindBody(c, &req) {
		return
	}
	if req.Nombre == "" || req.Email == "" {
		field := "nombre"
		if req.Nombre != "" {
			field = "email"
		}
		a.abort(c, &orquesta.ValidationError{
			Field:   field,
			Message: `Los campos "nombre" y "email" son requeridos`,
		})
		return
	}
	a.emit(c, functions.EventUsuario, functions.UsuarioInput{Nombre: req.Nombre, Email: req.Email},
		EventAck{Mensaje: "Workflow de onboarding iniciado", Usuario: req.Nombre})
}

// emit sends one event and acknowledges it without waiting for the runs.
func (a *API) emit(c *gin.Context, name string, payload any, ack EventAck) {
	evt, runIDs, err := a.eng.SendJSON(c.Request.Context(), name, payload)
	if err != nil && evt == nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Error enviando evento", Detalle: err.Error()})
		return
	}
	if err != nil {
		// The event is stored; the runs that failed to start are logged.
		a.logger.Error("some runs were not started",
			slog.String("event_id", evt.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	ack.Evento = name
	ack.EventID = evt.ID.String()
	ack.RunIDs = runIDStrings(runIDs)
	c.JSON(http.StatusOK, ack)
}

// bindBody binds a JSON body into dst. An empty body leaves dst zero.
func bindBody(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "JSON inválido", Detalle: err.Error()})
	return false
}

func runIDStrings(ids []id.RunID) []string {
	out := make([]string, len(ids))
	for i, runID := range ids {
		out[i] = runID.String()
	}
	return out
}
