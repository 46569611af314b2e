// Command dirtsim-cli dispatches a single command to either the Server
// or the UI over the JSON framing of internal/transport, prints the
// result, and exits.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aortez/dirtsim/internal/config"
	"github.com/aortez/dirtsim/internal/logging"
	"github.com/aortez/dirtsim/internal/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.ParseCLI(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "dirtsim-cli:", err)
		return 1
	}
	if cfg.Command == "" {
		fmt.Fprintln(os.Stderr, "dirtsim-cli: -command is required")
		return 1
	}

	var body map[string]interface{}
	if err := json.Unmarshal([]byte(cfg.Args), &body); err != nil {
		fmt.Fprintln(os.Stderr, "dirtsim-cli: invalid -args JSON:", err)
		return 1
	}

	logger := logging.Default("cli")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	client, err := transport.Dial(ctx, cfg.URL, transport.JSON, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dirtsim-cli: dial:", err)
		return 1
	}
	defer client.Close()

	result := client.SendCommandAndGetResponse(ctx, cfg.Command, body, cfg.Timeout)
	if !result.IsOk() {
		enc, _ := json.Marshal(result.Err)
		fmt.Fprintln(os.Stderr, string(enc))
		return 1
	}

	out, err := json.MarshalIndent(result.Value, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "dirtsim-cli: encode response:", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}
