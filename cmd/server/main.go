package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zerologlog "github.com/rs/zerolog/log"

	"github.com/drawchain/drawchain/internal/config"
	"github.com/drawchain/drawchain/internal/game"
	"github.com/drawchain/drawchain/internal/store/memory"
	"github.com/drawchain/drawchain/internal/store/postgres"
	"github.com/drawchain/drawchain/internal/topics"
	"github.com/drawchain/drawchain/internal/ws"
)

const version = "v1.0.0-dev"

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		portFlag    = flag.String("port", "", "Port to listen on (overrides PORT env var)")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(`Drawchain - Collaborative turn-based drawing sessions

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     Port to listen on (default: 8080 or PORT env var)

Environment Variables:
  PORT             Port to listen on (default: 8080)
  DATABASE_URL     PostgreSQL DSN; omit to run with the in-memory store
  TOPICS           Comma-separated candidate topic pool (optional)
  SWEEP_INTERVAL   How often to cancel expired waiting rooms (default: 1m)
  EXPORT_ENABLED   Append artifact manifests to a file on completion (default: false)
  EXPORT_FILE      Path for artifact manifests (default: ./drawchain-artifacts.txt)
`, os.Args[0])
		return
	}

	if *showVersion {
		fmt.Printf("Drawchain %s\n", version)
		return
	}

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, reading environment variables directly")
	}
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal(err)
	}
	port := *portFlag
	if port == "" {
		port = cfg.Port
	}

	// zerolog setup (human-friendly console)
	zerolog.TimeFieldFormat = time.RFC3339
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	zerologlog.Logger = zerologlog.Output(cw)

	// Gin setup with custom logger (skip /socket.io noise)
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
		zerologlog.Info().Str("path", path).Int("status", c.Writer.Status()).
			Dur("dur", time.Since(start)).Msg("http")
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})

	// Store and topic source
	var (
		store  game.Store
		source game.TopicSource
	)
	if cfg.DatabaseURL != "" {
		pg, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("failed to connect to database:", err)
		}
		if len(cfg.Topics) > 0 {
			if err := pg.SeedTopics(context.Background(), cfg.Topics); err != nil {
				log.Fatal("failed to seed topics:", err)
			}
		}
		store = pg
		source = pg
	} else {
		store = memory.New()
		if len(cfg.Topics) > 0 {
			source = topics.NewStatic(cfg.Topics)
		}
	}

	var opts []game.Option
	if cfg.ExportEnabled {
		opts = append(opts, game.WithExportFile(cfg.ExportFile))
	}
	coord := game.NewCoordinator(store, source, opts...)

	// Expiry sweep for abandoned waiting rooms
	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Fatal("failed to create scheduler:", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(cfg.SweepInterval),
		gocron.NewTask(func() {
			n, err := coord.SweepExpired(context.Background())
			if err != nil {
				zerologlog.Error().Err(err).Msg("expiry sweep failed")
				return
			}
			if n > 0 {
				zerologlog.Info().Int("cancelled", n).Msg("expired waiting rooms cancelled")
			}
		}),
	)
	if err != nil {
		log.Fatal("failed to schedule expiry sweep:", err)
	}
	sched.Start()
	defer func() { _ = sched.Shutdown() }()

	// Realtime edge
	sock := ws.New(coord)
	io := sock.Mount(r)
	defer io.Close()

	// Minimal REST API
	api := r.Group("/api")

	type createReq struct {
		Name     string        `json:"name"`
		Settings game.Settings `json:"settings"`
	}
	api.POST("/rooms", func(c *gin.Context) {
		var req createReq
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		identity := uuid.NewString()
		snap, err := coord.Create(c.Request.Context(), identity, req.Settings)
		if err != nil {
			c.JSON(httpStatus(err), gin.H{"error": err.Error()})
			return
		}
		p, snap, err := coord.Join(c.Request.Context(), snap.Session.ID, identity, req.Name)
		if err != nil {
			c.JSON(httpStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"sessionCode": snap.Session.Code,
			"identity":    identity,
			"joinOrder":   p.JoinOrder,
		})
	})

	api.GET("/rooms", func(c *gin.Context) {
		phases, ok := phaseFilter(c.Query("status"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
			return
		}
		sessions, err := coord.ListSessions(c.Request.Context(), phases)
		if err != nil {
			c.JSON(httpStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	})

	api.GET("/rooms/:code", func(c *gin.Context) {
		snap, err := coord.SnapshotByCode(c.Request.Context(), c.Param("code"))
		if err != nil {
			c.JSON(httpStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	api.GET("/rooms/:code/artifact", func(c *gin.Context) {
		snap, err := coord.SnapshotByCode(c.Request.Context(), c.Param("code"))
		if err != nil {
			c.JSON(httpStatus(err), gin.H{"error": err.Error()})
			return
		}
		layers, err := coord.Assemble(c.Request.Context(), snap.Session.ID)
		if err != nil {
			c.JSON(httpStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"topic": snap.Session.Topic, "layers": layers})
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := r.Run(":" + port); err != nil {
			log.Fatal(err)
		}
	}()
	log.Printf("listening on :%s", port)

	<-ctx.Done()
	log.Println("shutting down")
}

func phaseFilter(status string) ([]game.Phase, bool) {
	switch status {
	case "":
		return nil, true
	case "waiting":
		return []game.Phase{game.PhaseWaiting}, true
	case "active":
		return []game.Phase{game.PhaseChoosingTopic, game.PhaseDrawing}, true
	case "completed":
		return []game.Phase{game.PhaseCompleted}, true
	case "cancelled":
		return []game.Phase{game.PhaseCancelled}, true
	default:
		return nil, false
	}
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, game.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, game.ErrInvalidSettings), errors.Is(err, game.ErrInvalidTopic):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrSessionFull),
		errors.Is(err, game.ErrAlreadyAdvanced),
		errors.Is(err, game.ErrDuplicateContribution),
		errors.Is(err, game.ErrCodeExhausted):
		return http.StatusConflict
	case errors.Is(err, game.ErrSessionNotJoinable),
		errors.Is(err, game.ErrNotEnoughPlayers),
		errors.Is(err, game.ErrNotYourTurn),
		errors.Is(err, game.ErrInvalidPhase),
		errors.Is(err, game.ErrNotCompleted):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
