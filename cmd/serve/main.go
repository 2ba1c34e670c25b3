package main

import (
	"context"
	"flag"
	"log"
	gohttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tilezen/go-shapedtiles/http"
	"github.com/tilezen/go-shapedtiles/tilepack"
)

func main() {
	mbtilesFile := flag.String("input", "", "The mbtiles file to serve from, a local path or an http(s) URL read with range requests")
	addr := flag.String("listen", ":8080", "The address and port to listen on")
	prefix := flag.String("prefix", "/tiles", "The URL path the tiles are served under")
	flag.Parse()

	logger := log.New(os.Stdout, "http: ", log.LstdFlags)

	if *mbtilesFile == "" {
		logger.Fatal("Need to provide --input parameter")
	}

	reader, err := tilepack.OpenMbtilesReader(*mbtilesFile)
	if err != nil {
		logger.Fatalf("Couldn't create MBtilesReader, %v", err)
	}
	defer reader.Close()

	metadata, err := reader.Metadata()
	if err != nil {
		logger.Fatalf("Couldn't read metadata, %v", err)
	}

	format, err := metadata.Format()
	if err != nil {
		logger.Fatalf("Couldn't determine tile format, %v", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logger, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Mount(*prefix, http.MbtilesHandler(reader, format))

	server := &gohttp.Server{
		Addr:         *addr,
		Handler:      r,
		ErrorLog:     logger,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Printf("Server shutdown error: %v", err)
		}
	}()

	logger.Printf("Serving %s tiles from %s at %s%s/{z}/{x}/{y}.%s", format, *mbtilesFile, *addr, *prefix, format)

	if err := server.ListenAndServe(); err != nil && err != gohttp.ErrServerClosed {
		logger.Fatalf("Could not listen on %s: %v\n", *addr, err)
	}
}
