package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/CallRelay/internal/adapters/signal"
	"github.com/dkeye/CallRelay/internal/app"
	"github.com/dkeye/CallRelay/internal/config"
	"github.com/dkeye/CallRelay/internal/core"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const capabilityKey = "capability"

type Deps struct {
	Signal   *signal.SignalWSController
	Rooms    *app.RoomManager
	Calls    core.CallStore
	Audit    core.CallAudit
	Verifier core.TokenVerifier
	Issuer   core.TokenIssuer
}

// CapabilityMiddleware admits requests whose bearer token carries one of roles.
func CapabilityMiddleware(v core.TokenVerifier, roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		capab, err := v.Verify(c.Request.Context(), signal.Bearer(c))
		if err != nil {
			abort(c, domain.CodeAuthenticationFailed, err)
			return
		}
		if !lo.Contains(roles, capab.Role) {
			abort(c, domain.CodeAccessDenied, domain.ErrAccessDenied)
			return
		}
		c.Set(capabilityKey, capab)
		c.Next()
	}
}

func abort(c *gin.Context, code domain.Code, err error) {
	c.AbortWithStatusJSON(domain.HTTPStatus(code), gin.H{"error": code, "message": err.Error()})
}

func SetupRouter(cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/call/:roomKey", d.Signal.HandleCall)

	api := r.Group("/api")
	api.POST("/public/initiate_call", initiateCall(d))

	rooms := api.Group("/rooms", CapabilityMiddleware(d.Verifier, domain.RoleSuperAdmin, domain.RoleSupervisor))
	rooms.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": d.Rooms.List()})
	})
	rooms.GET("/:roomKey", func(c *gin.Context) {
		key := domain.RoomKey(c.Param("roomKey"))
		room, ok := d.Rooms.Get(key)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		members := room.Registry().MembersSnapshot()
		c.JSON(http.StatusOK, gin.H{
			"key":          key,
			"client_count": len(members),
			"members":      members,
		})
	})
	rooms.DELETE("/:roomKey", func(c *gin.Context) {
		if !d.Rooms.Evict(domain.RoomKey(c.Param("roomKey"))) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	calls := api.Group("/calls", CapabilityMiddleware(d.Verifier, domain.RoleSuperAdmin, domain.RoleSupervisor))
	calls.GET("/:roomKey", callAudit(d))

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

// callAudit returns the stored call record and its chat transcript.
func callAudit(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := domain.RoomKey(c.Param("roomKey"))
		rec, err := d.Audit.Call(c.Request.Context(), key)
		if errors.Is(err, domain.ErrCallNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		if err != nil {
			abort(c, domain.CodePersistenceUnavailable, errors.Join(domain.ErrPersistenceUnavailable, err))
			return
		}
		msgs, err := d.Audit.Messages(c.Request.Context(), key)
		if err != nil {
			abort(c, domain.CodePersistenceUnavailable, errors.Join(domain.ErrPersistenceUnavailable, err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"call": rec, "messages": msgs})
	}
}

type initiateRequest struct {
	DomainID string `json:"domain_id" binding:"required,max=64"`
}

type initiateResponse struct {
	Message string         `json:"message"`
	RoomID  domain.RoomKey `json:"room_id"`
	Token   string         `json:"token"`
}

// initiateCall creates an unclaimed call and hands the visitor a capability
// valid for that one room only.
func initiateCall(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req initiateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid domain_id"})
			return
		}
		key, err := domain.NewRoomKey(req.DomainID, uuid.NewString())
		if err != nil {
			abort(c, domain.CodeInvalidRoomKey, err)
			return
		}
		if err := d.Calls.CreateCall(c.Request.Context(), key, req.DomainID); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Str("room", string(key)).Msg("create call")
			abort(c, domain.CodePersistenceUnavailable, errors.Join(domain.ErrPersistenceUnavailable, err))
			return
		}
		token, err := d.Issuer.Issue(domain.Capability{
			UserID:         domain.UserID("visitor-" + uuid.NewString()),
			Role:           domain.RoleVisitor,
			AllowedDomains: []string{req.DomainID},
			Rooms:          []domain.RoomKey{key},
		})
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("issue visitor token")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		log.Info().Str("module", "adapters.http").Str("room", string(key)).Msg("call initiated")
		c.JSON(http.StatusOK, initiateResponse{Message: "call session created", RoomID: key, Token: token})
	}
}
