package main

import (
	"paulemploi-bot/cmd/paulemploi/commands"
	"paulemploi-bot/lib/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
