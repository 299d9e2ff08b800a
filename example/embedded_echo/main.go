package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/loykin/devhost"
)

// embedded_echo: an Echo application that owns /api and hands every other
// path to the front-end dev server supervised by devhost.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	srcDir := os.Getenv("CLIENT_APP_DIR")
	if srcDir == "" {
		srcDir = "ClientApp"
	}

	fwd := devhost.NewForwarder(true)
	prov, err := devhost.NewProvisioner(devhost.ProvisionConfig{}, nil)
	if err != nil {
		log.Fatal(err)
	}
	sup, err := devhost.New(devhost.Config{
		SourceDir:      srcDir,
		StartupTimeout: 2 * time.Minute,
	}, devhost.WithHandoff(fwd), devhost.WithProvisioner(prov))
	if err != nil {
		log.Fatal(err)
	}

	e := echo.New()
	e.GET("/api/hello", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"hello": "world"})
	})
	h := devhost.Handler(sup, fwd, "/_devhost", false)
	e.Any("/*", echo.WrapHandler(h))

	// the host answers right away; dev server routes return 503 until ready
	go func() {
		res, err := sup.Run(ctx)
		if err != nil {
			log.Printf("dev server not available: %v", err)
			return
		}
		log.Printf("dev server ready at %s (already running: %t)", res.Endpoint, res.AlreadyRunning)
	}()

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(sctx)
		_ = sup.Stop(5 * time.Second)
	}()

	log.Println("starting echo server on :8080")
	if err := e.Start(":8080"); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
