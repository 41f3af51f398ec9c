// fstate queries the monitor's web API for the last-known state of a robot.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mtzanidakis/fleetmon/internal/fleet"
)

type apiError struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  fstate <device-id>")
	fmt.Fprintln(os.Stderr, "  fstate status")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Environment:")
	fmt.Fprintln(os.Stderr, "  FLEETMON_URL       monitor base URL (default http://localhost:9877)")
	fmt.Fprintln(os.Stderr, "  FLEETMON_PASSWORD  basic auth password, if the monitor requires one")
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func get(baseURL, path string) []byte {
	req, err := http.NewRequest("GET", baseURL+path, nil)
	if err != nil {
		fatal("%v", err)
	}
	if pw := os.Getenv("FLEETMON_PASSWORD"); pw != "" {
		req.SetBasicAuth("", pw)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fatal("%v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fatal("read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != 0 {
			fatal("%s (code %#x)", apiErr.Error, apiErr.Code)
		}
		fatal("unexpected status %d: %s", resp.StatusCode, body)
	}
	return body
}

func main() {
	baseURL := os.Getenv("FLEETMON_URL")
	if baseURL == "" {
		baseURL = "http://localhost:9877"
	}

	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "status":
		body := get(baseURL, "/api/status")
		var status map[string]any
		if err := json.Unmarshal(body, &status); err != nil {
			fatal("decode status: %v", err)
		}
		fmt.Printf("version:    %v\n", status["version"])
		fmt.Printf("uptime:     %v\n", status["uptime"])
		fmt.Printf("num agents: %v\n", status["num_agents"])
		fmt.Printf("known ids:  %v\n", status["known_ids"])

	default:
		deviceID := os.Args[1]
		body := get(baseURL, "/state/"+deviceID)

		var robot fleet.Robot
		if err := json.Unmarshal(body, &robot); err != nil {
			fatal("decode state: %v", err)
		}
		fmt.Printf("device:   %s\n", robot.DeviceID)
		fmt.Printf("position: (%g, %g) theta %g\n", robot.X, robot.Y, robot.Theta)
		fmt.Printf("state:    %s\n", robot.State)
		fmt.Printf("battery:  %g%%\n", robot.BatteryLevel)
		fmt.Printf("loaded:   %v\n", robot.Loaded)
		fmt.Printf("path:     %d waypoint(s)\n", len(robot.Path))
	}
}
