package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/auxroom/go-auxroom/internal/api"
	"github.com/auxroom/go-auxroom/internal/broadcast"
	"github.com/auxroom/go-auxroom/internal/config"
	"github.com/auxroom/go-auxroom/internal/database"
	"github.com/auxroom/go-auxroom/internal/registry"
	"github.com/auxroom/go-auxroom/internal/rooms"
	"github.com/auxroom/go-auxroom/internal/stats"
	"github.com/auxroom/go-auxroom/internal/types"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[auxroom] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgMusicRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	tokenService := api.NewTokenService(dbConn, cfg.SigningKey)
	connRegistry := registry.NewConnectionRegistry(logger, tokenService, cfg.AuthTimeout)
	broadcaster := broadcast.NewEventBroadcaster(logger, connRegistry, statsUpdater, cfg.EventRetention)
	roomManager := rooms.NewRoomManager(logger, dbConn, broadcaster, connRegistry, statsUpdater)

	srv := api.NewAuxroomApp(mux, logger, connRegistry, roomManager, broadcaster, dbConn, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	maintenanceDone := make(chan struct{})
	go runMaintenance(logger, cfg, connRegistry, broadcaster, roomManager, maintenanceDone)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	close(maintenanceDone)

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutdown complete")
}

// runMaintenance drives the periodic sweeps: idle connections, unconfirmed
// event deliveries, and rooms that have sat empty past their TTL.
func runMaintenance(logger *log.Logger, cfg *config.Config, cr *registry.ConnectionRegistry, eb *broadcast.EventBroadcaster, rm *rooms.RoomManager, done <-chan struct{}) {
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := cr.SweepStale(cfg.ConnIdleTimeout)
			for _, rc := range removed {
				rm.HandleUserDisconnect(types.User{Id: rc.UserId})
			}
			if len(removed) > 0 {
				logger.Printf("reaped %d idle connections", len(removed))
			}

			if expired := eb.CleanupStaleEvents(); expired > 0 {
				logger.Printf("expired %d stale deliveries", expired)
			}

			if destroyed := rm.CleanupStaleData(cfg.EmptyRoomTTL); destroyed > 0 {
				logger.Printf("destroyed %d empty rooms", destroyed)
			}
		case <-done:
			return
		}
	}
}
