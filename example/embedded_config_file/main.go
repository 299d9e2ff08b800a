package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loykin/devhost"
)

// This example loads a devhost TOML config, runs the startup sequence once
// and prints the resulting status. The dev server keeps running afterwards.
func main() {
	cfgPath := filepath.Join("config", "devhost.toml")
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	fc, err := devhost.LoadConfig(cfgPath)
	if err != nil {
		panic(err)
	}
	sc, err := fc.Supervisor()
	if err != nil {
		panic(err)
	}

	logger := fc.Logger().NewSlogger()
	opts := []devhost.Option{devhost.WithLogger(logger)}
	if fc.DevServer.Artifacts.Enabled {
		prov, err := devhost.NewProvisioner(fc.Provision(), logger)
		if err != nil {
			panic(err)
		}
		opts = append(opts, devhost.WithProvisioner(prov))
	}
	sup, err := devhost.New(sc, opts...)
	if err != nil {
		panic(err)
	}

	if _, err := sup.Run(context.Background()); err != nil {
		fmt.Println("startup failed:", err)
	}
	b, _ := json.MarshalIndent(sup.Status(), "", "  ")
	fmt.Println(string(b))
}
