package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tunvpn/presentation"
)

const (
	serverMode = "server"
	clientMode = "client"
)

// main dispatches to the server or client tunnel runner by its first
// argument. Flag parsing and an interactive mode prompt are deliberately
// out of scope; this is a fixed two-mode switch grounded on the teacher's
// main.go signal-handling shape.
func main() {
	if len(os.Args) < 3 {
		printUsage()
		os.Exit(1)
	}

	mode := os.Args[1]
	configPath := os.Args[2]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var err error
	switch mode {
	case serverMode:
		err = presentation.StartServer(ctx, configPath)
	case clientMode:
		err = presentation.StartClient(ctx, configPath)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode: %s\n", mode)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "usage: tunvpn <%s|%s> <config-path>\n", serverMode, clientMode)
}
