// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/quizgrid/quizgrid/internal/auth"
	"github.com/quizgrid/quizgrid/internal/cache"
	"github.com/quizgrid/quizgrid/internal/database"
	"github.com/quizgrid/quizgrid/internal/handlers"
	"github.com/quizgrid/quizgrid/internal/match"
	"github.com/quizgrid/quizgrid/internal/middleware"
	"github.com/quizgrid/quizgrid/internal/session"
	"github.com/quizgrid/quizgrid/internal/supervisor"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	if err := auth.Init(); err != nil {
		logger.Fatalf("auth init: %v", err)
	}

	ctx := context.Background()
	store, err := database.Connect(ctx)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer store.Close()

	// Finished matches push history records through Redis; the historian
	// service drains them into Postgres. Without Redis, history writes go
	// straight to the database.
	var history match.HistorySink
	if queue, err := cache.NewHistoryQueue(ctx); err != nil {
		logger.Warnf("redis unavailable, writing history directly to postgres: %v", err)
		history = store
	} else {
		history = queue
	}

	sup := supervisor.New(store, store, history, logger)
	sessions := session.NewRegistry(store, logger)
	defer sessions.Close()

	srv := handlers.NewServer(logger, store, sup, sessions)
	logged := middleware.LogMiddleware(logger)

	mux := http.NewServeMux()
	mux.Handle("/user/create", logged(http.HandlerFunc(srv.CreateUserHandler)))
	mux.Handle("/user/login", logged(http.HandlerFunc(srv.LoginHandler)))
	mux.Handle("/match/create", logged(http.HandlerFunc(srv.CreateMatchHandler)))
	mux.Handle("/match/list", logged(http.HandlerFunc(srv.ListMatchesHandler)))
	mux.Handle("/match/categories", logged(http.HandlerFunc(srv.ListCategoriesHandler)))
	mux.Handle("/session/online", logged(http.HandlerFunc(srv.OnlineHandler)))
	mux.Handle("/session/list", logged(http.HandlerFunc(srv.ListOnlineHandler)))
	mux.Handle("/match/ws/", logged(http.HandlerFunc(srv.MatchWSHandler)))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("quizgrid server running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
}
