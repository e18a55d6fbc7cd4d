package main

import (
	"context"

	"dhlottery-backend/cmd/dhlottery-cli/commands"
	"dhlottery-backend/lib/telemetry"
)

func main() {
	telemetry.SetupFromEnv(context.Background(), "dhlottery-cli")
	telemetry.InitSlog(true)
	commands.ExecuteContext(context.Background())
}
