package main

import "time"

// Flag structs to decouple cobra from logic for testing.

type RunFlags struct {
	ConfigPath string
	StopOnExit bool
	StopWait   time.Duration
	NoServer   bool
}

type ProvisionFlags struct {
	ConfigPath string
	Dir        string
}

type ProbeFlags struct {
	Port int
}

type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
	WaitReady  time.Duration
	Wait       time.Duration
}

type InitFlags struct {
	Type   string
	Name   string
	Output string
	Format string
	Force  bool
}

type HistoryFlags struct {
	ConfigPath string
	DSN        string
	Name       string
	Limit      int
}
