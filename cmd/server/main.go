package main

import (
	"github.com/osintlab/threatgraph/internal/server"
	"github.com/osintlab/threatgraph/internal/util"
	"github.com/osintlab/threatgraph/pkg/logger"
	"github.com/osintlab/threatgraph/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
