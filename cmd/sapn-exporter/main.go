package main

import (
	"context"
	"sapn-exporter/cmd/sapn-exporter/commands"
	"sapn-exporter/lib/telemetry"
)

func main() {
	telemetry.SetupFromEnv(context.Background(), "sapn-exporter")
	telemetry.InitSlog(true)
	commands.ExecuteContext(context.Background())
}
