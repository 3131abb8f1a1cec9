package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kiliankoe/quipdash/internal/game"
	"github.com/kiliankoe/quipdash/internal/pack"
	staticserver "github.com/kiliankoe/quipdash/static"
	"github.com/rs/zerolog/log"
)

// archive is what the HTTP API reads from the game archive.
type archive interface {
	CountGames(ctx context.Context) (int, error)
	RecentGames(ctx context.Context, limit int) ([]game.Result, error)
}

type routerDeps struct {
	Registry *game.Registry
	Packs    *pack.Library
	// Archive is optional.
	Archive archive
	Version string
	Started time.Time
}

func newRouter(d routerDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		status := c.Writer.Status()
		dur := time.Since(start)
		log.Info().Str("path", path).Int("status", status).Dur("dur", dur).Msg("http")
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})

	r.GET("/api/stats", func(c *gin.Context) {
		out := gin.H{
			"ongoingGames":  d.Registry.Len(),
			"uptimeSeconds": int(time.Since(d.Started).Seconds()),
			"version":       d.Version,
		}
		if d.Archive != nil {
			n, err := d.Archive.CountGames(c.Request.Context())
			if err != nil {
				log.Error().Err(err).Msg("count archived games")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "archive_unavailable"})
				return
			}
			out["gamesPlayed"] = n
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/api/packs", func(c *gin.Context) {
		type packInfo struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Prompts     int    `json:"prompts"`
		}
		out := make([]packInfo, 0, d.Packs.Len())
		for _, name := range d.Packs.Names() {
			p, err := d.Packs.Get(name)
			if err != nil {
				continue
			}
			out = append(out, packInfo{Name: p.Name, Description: p.Description, Prompts: len(p.Prompts)})
		}
		c.JSON(http.StatusOK, gin.H{"packs": out})
	})

	r.GET("/api/games", func(c *gin.Context) {
		games := d.Registry.Games()
		out := make([]game.Summary, 0, len(games))
		for _, g := range games {
			out = append(out, g.Summary())
		}
		c.JSON(http.StatusOK, gin.H{"games": out})
	})

	r.GET("/api/games/recent", func(c *gin.Context) {
		if d.Archive == nil {
			c.Status(http.StatusNotFound)
			return
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
		if err != nil || limit <= 0 || limit > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		results, err := d.Archive.RecentGames(c.Request.Context(), limit)
		if err != nil {
			log.Error().Err(err).Msg("list archived games")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "archive_unavailable"})
			return
		}
		if results == nil {
			results = []game.Result{}
		}
		c.JSON(http.StatusOK, gin.H{"games": results})
	})

	return r
}

// mountStatic serves the browser client for every route nothing else claims.
func mountStatic(r *gin.Engine) {
	r.NoRoute(func(c *gin.Context) {
		staticserver.Handler().ServeHTTP(c.Writer, c.Request)
	})
}
