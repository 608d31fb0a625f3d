package main

import (
	"family-safety-control/cmd"

	"github.com/joho/godotenv"
)

func main() {
	// Environment from .env, if present. Real environment variables win.
	godotenv.Load()

	cmd.Execute()
}
