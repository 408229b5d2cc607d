package main

import "time"

// Flag structs to decouple cobra from logic for testing.

type UpFlags struct {
	ConfigPath    string
	Groups        []string
	MetricsListen string
	Debug         bool
}

type DownFlags struct {
	ConfigPath string
	Groups     []string
	All        bool
	Wait       time.Duration
	Debug      bool
}

type StatusFlags struct {
	ConfigPath string
	Group      string
}

type HistoryFlags struct {
	ConfigPath string
	Group      string
	Limit      int
}
