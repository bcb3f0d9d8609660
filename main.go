package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hbomb79/Telluride/internal"
)

// build is the identifier reported by the server in every response. It
// is set at link time, e.g. -ldflags "-X main.build=1.4.0".
var build = "dev"

// main() is the entry point to the program. Interrupts cancel the root
// context, which either aborts the current extraction or stops the server.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := internal.NewCLI(build).Execute(ctx, os.Args[1:])
	stop()

	os.Exit(code)
}
