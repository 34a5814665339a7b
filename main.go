package main

import (
	"github.com/appayureze-cloud/aiastra/internal/adapters/in/cli"

	_ "github.com/joho/godotenv/autoload"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	cli.Execute()
}
