package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/yourusername/camlink/internal/cloud"
	"github.com/yourusername/camlink/internal/core"
)

// One-shot device listing against the cloud account from the config file.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	config, err := core.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	baseURL, err := config.CloudBaseURL()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	client := cloud.NewAPIClient(baseURL, config.Cloud.SessionToken)
	client.SetRequestTimeout(time.Duration(config.Cloud.APITimeoutSec) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(config.Cloud.APITimeoutSec)*time.Second)
	defer cancel()

	devices, err := client.LoadAllDevices(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load devices: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERIAL\tNAME\tSTATUS\tLOCAL IP\tRTSP PORT\tALARM")
	for serial, dev := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%t\n",
			serial, dev.Name, statusString(dev.Status), dev.LocalIP, dev.LocalRTSPPort, dev.AlarmNotify)
	}
	w.Flush()

	fmt.Printf("\n%d device(s)\n", len(devices))
}

func statusString(status int) string {
	switch status {
	case cloud.StatusOff:
		return "off"
	case cloud.StatusOn:
		return "on"
	case cloud.StatusOffline:
		return "offline"
	default:
		return fmt.Sprintf("unknown(%d)", status)
	}
}
