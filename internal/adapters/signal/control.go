package signal

import (
	"errors"
	"net/http"

	"github.com/dkeye/CallRelay/internal/app"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/dkeye/CallRelay/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// reject answers a refused connect attempt before any upgrade.
func reject(c *gin.Context, err error) {
	code, ok := domain.CodeOf(err)
	if !ok {
		code = domain.CodeTransientNetwork
	}
	status := domain.HTTPStatus(code)
	if errors.Is(err, app.ErrRoomClosed) {
		status = http.StatusServiceUnavailable
	}
	log.Info().Err(err).Str("module", "signal").Str("room", c.Param("roomKey")).
		Str("code", string(code)).Int("status", status).Msg("connect rejected")
	c.AbortWithStatusJSON(status, protocol.Rejection{Error: code, Message: err.Error()})
}
