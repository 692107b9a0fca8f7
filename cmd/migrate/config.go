package main

import (
	"libraryapi/internal/config"
)

func loadEnvFiles() {
	// Do not override environment provided by the runtime (e.g. Docker).
	config.LoadEnvFiles()
}

func loadConfig() (config.Database, error) {
	return config.LoadDatabase()
}
