package config

import (
	"os"

	"github.com/joho/godotenv"
)

func init() {
	// Missing .env is fine, values may come from the process environment
	godotenv.Load(".env")
}

// Config returns the value of the given environment key.
func Config(key string) string {
	return os.Getenv(key)
}
