// voxloop-chat sends a text message to a running voxloopd and prints
// the assistant reply.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

var version = "0.1.0-dev"

func main() {
	var (
		addr     string
		language string
		noCache  bool
		timeout  time.Duration
	)
	sendCmd := flag.NewFlagSet("send", flag.ExitOnError)
	sendCmd.StringVar(&addr, "addr", "http://127.0.0.1:8080", "Base URL of the voxloopd HTTP API")
	sendCmd.StringVar(&language, "language", "", "Reply language tag, e.g. en-US")
	sendCmd.BoolVar(&noCache, "no-cache", false, "Bypass the completion cache for this message")
	sendCmd.DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'send' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "send":
		sendCmd.Parse(os.Args[2:])
		message := strings.TrimSpace(strings.Join(sendCmd.Args(), " "))
		if message == "" {
			fmt.Fprintln(os.Stderr, "usage: voxloop-chat send [flags] <message>")
			os.Exit(2)
		}
		reply, err := runSend(addr, message, language, noCache, timeout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(reply)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runSend(addr, message, language string, noCache bool, timeout time.Duration) (string, error) {
	payload := map[string]any{"message": message}
	if language != "" {
		payload["language"] = language
	}
	if noCache {
		payload["enableCaching"] = false
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Post(strings.TrimRight(addr, "/")+"/api/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return "", fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var ok struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &ok); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return ok.Content, nil
}
