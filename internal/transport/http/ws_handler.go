package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/olab/turktalk-server/internal/auth"
	"github.com/olab/turktalk-server/internal/conference"
	"github.com/olab/turktalk-server/internal/proto"
	"github.com/olab/turktalk-server/internal/store"
)

// WSHandler upgrades HTTP connections and bridges them to the conference.
type WSHandler struct {
	conf        *conference.Conference
	registry    *Registry
	authService *auth.Service
	log         *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(conf *conference.Conference, registry *Registry, authService *auth.Service, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{conf: conf, registry: registry, authService: authService, log: logger}
}

// Handle is the gin entry point for /ws. The token is resolved before the
// upgrade so the conference only ever sees authenticated connections.
func (h *WSHandler) Handle(c *gin.Context) {
	claims, err := h.resolveClaims(c)
	if err != nil {
		c.JSON(stdhttp.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	connectionID := uuid.NewString()
	client := h.registry.Register(connectionID)
	h.conf.OnConnected(connectionID)

	defer func() {
		h.conf.OnDisconnected(connectionID)
		h.registry.Deregister(connectionID)
	}()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, connectionID, claims)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn", connectionID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) resolveClaims(c *gin.Context) (*auth.Claims, error) {
	token := c.Query("token")
	if token == "" {
		token = bearerToken(c.GetHeader("Authorization"))
	}
	if token == "" {
		return nil, errors.New("missing token")
	}
	return h.authService.ValidateToken(token)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, connectionID string, claims *auth.Claims) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}
		h.dispatch(connectionID, claims, inbound)
	}
}

// dispatch maps an inbound envelope to a conference operation. Failures are
// logged and the event is dropped; state resynchronizes on the client's next
// reconnect.
func (h *WSHandler) dispatch(connectionID string, claims *auth.Claims, inbound proto.Inbound) {
	switch inbound.Type {
	case proto.InboundTypeRegister:
		var data proto.RegisterData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			h.log.Warn().Err(err).Str("conn", connectionID).Msg("bad register payload")
			return
		}
		var err error
		if claims.Role == store.RoleModerator {
			err = h.conf.RegisterModerator(claims.UserID, claims.Nickname, data.Topic, connectionID)
		} else {
			err = h.conf.RegisterLearner(claims.UserID, claims.Nickname, data.Topic, connectionID)
		}
		if err != nil {
			h.log.Warn().Err(err).Str("conn", connectionID).Str("topic", data.Topic).Msg("register failed")
		}

	case proto.InboundTypeAssign:
		var data proto.AssignData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			h.log.Warn().Err(err).Str("conn", connectionID).Msg("bad assign payload")
			return
		}
		if err := h.conf.AssignLearner(connectionID, data.LearnerID, data.Topic); err != nil {
			h.log.Warn().Err(err).Str("conn", connectionID).Str("learner", data.LearnerID).Msg("assign failed")
		}

	case proto.InboundTypeMessage:
		var data proto.MessageData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			h.log.Warn().Err(err).Str("conn", connectionID).Msg("bad message payload")
			return
		}
		if err := h.conf.SendMessage(connectionID, data.Channel, data.Text); err != nil {
			h.log.Warn().Err(err).Str("conn", connectionID).Msg("message failed")
		}

	default:
		h.log.Warn().Str("conn", connectionID).Str("type", inbound.Type).Msg("unknown inbound type")
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *Connection) error {
	for {
		select {
		case env, ok := <-client.Out:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, env); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
