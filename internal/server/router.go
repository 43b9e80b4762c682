package server

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/peercall/peercall/internal/config"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("PeercallSessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "server").Int("port", cfg.Port).Msg("router setup")

	ctl := NewController(NewRegistry())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	api.GET("/ice", func(c *gin.Context) {
		servers := make([]gin.H, 0, len(cfg.STUNURLs))
		for _, u := range cfg.STUNURLs {
			servers = append(servers, gin.H{"urls": []string{u}})
		}
		c.JSON(http.StatusOK, gin.H{"iceServers": servers})
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "server").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	return r
}
