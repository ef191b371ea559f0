package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/etitcombe/jpconnect/config"
	"github.com/etitcombe/jpconnect/connection"
	"github.com/etitcombe/jpconnect/db"
	"github.com/etitcombe/jpconnect/nonce"
	"github.com/etitcombe/jpconnect/rand"
	"github.com/spf13/pflag"
)

// secretLength is the length of the alphanumeric secrets sent to the
// connection service.
const secretLength = 32

func main() {
	var (
		port       int
		configPath string
		version    bool
	)
	pflag.IntVar(&port, "port", 0, "the port to start the web server on (overrides the config file)")
	pflag.StringVar(&configPath, "config", ".config", "path to the configuration file")
	pflag.BoolVar(&version, "version", false, "print the version and exit")
	pflag.Parse()

	if version {
		fmt.Printf("%s %s\n", pluginName, pluginVersion)
		return
	}

	infoLog := log.New(os.Stdout, "INFO  ", log.Ldate|log.Ltime|log.Lmsgprefix)
	errorLog := log.New(os.Stderr, "ERROR ", log.Ldate|log.Ltime|log.Lshortfile|log.Lmsgprefix)

	cfg, err := config.LoadConfig(configPath, config.Overrides{Port: port})
	if err != nil {
		errorLog.Fatal(err)
	}

	optionStore, err := db.NewOptionStore(cfg.Database.Path)
	if err != nil {
		errorLog.Fatal(err)
	}
	defer optionStore.Close()

	if err := optionStore.Open(); err != nil {
		errorLog.Fatal(err)
	}

	userStore, err := db.NewUserStoreFile(cfg.Pepper, cfg.UserDir)
	if err != nil {
		errorLog.Fatal(err)
	}

	manager := connection.New(
		optionStore,
		connection.NewClient(cfg.Connection.APIBase, cfg.APITimeout()),
		connection.Site{
			SiteURL:  cfg.Site.SiteURL,
			HomeURL:  cfg.Site.HomeURL,
			AdminURL: cfg.Site.AdminURL,
		},
		connection.WithSecretGenerator(func() (string, error) {
			return rand.Password(secretLength)
		}),
		connection.WithLogger(stdLogger{infoLog: infoLog, errorLog: errorLog}),
	)

	server := newServer(infoLog, errorLog, serverDeps{
		userStore:   userStore,
		optionStore: optionStore,
		manager:     manager,
		nonces:      nonce.New(cfg.NonceSecret, cfg.NonceLifetime()),
		homeURL:     cfg.Site.HomeURL,
		adminURL:    cfg.Site.AdminURL,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		ErrorLog:     errorLog,
		Handler:      server,
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		s := <-sigint

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		infoLog.Println("shutting down:", s)
		if err := srv.Shutdown(ctx); err != nil {
			// Error from closing listeners, or context timeout:
			errorLog.Printf("HTTP server Shutdown: %v", err)
		}
		close(idleConnsClosed)
	}()

	infoLog.Printf("%s listening on %d\n", pluginSlug, cfg.Port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		// Error starting or closing listener:
		errorLog.Fatalf("HTTP server ListenAndServe: %v", err)
	}

	<-idleConnsClosed
}
