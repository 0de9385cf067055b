package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dreamware/ridecoord/internal/logging"
	"github.com/dreamware/ridecoord/internal/membership"
	"github.com/dreamware/ridecoord/internal/supervisor"
	"github.com/spf13/cobra"
)

var (
	// Version is set via -ldflags at release build time.
	Version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// rootCmd takes no subcommand: `ridecoord-coordinator <id> <is-leader>` is
// §6's literal CLI line (`<bin> <id> <is-leader:bool>`), kept as
// positional args on the default command rather than a flag-only
// subcommand so scripts driving it that way keep working.
var rootCmd = &cobra.Command{
	Use:     "ridecoord-coordinator <id> <is-leader>",
	Short:   "Run one ridecoord coordinator node, blocking until SIGINT/SIGTERM",
	Version: Version,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		logLevel, _ := cmd.Flags().GetString("log-level")
		logConsole, _ := cmd.Flags().GetBool("log-console")
		logging.Init(logLevel, logConsole)

		nodeID, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("<id>: %w", err)
		}
		isLeader, err := strconv.ParseBool(args[1])
		if err != nil {
			return fmt.Errorf("<is-leader>: %w", err)
		}

		rosterFlag, _ := cmd.Flags().GetString("roster")
		roster, err := parseRoster(rosterFlag)
		if err != nil {
			return fmt.Errorf("--roster: %w", err)
		}
		self, ok := roster.Lookup(nodeID)
		if !ok {
			return fmt.Errorf("<id> %d is not present in --roster", nodeID)
		}

		peerListen, _ := cmd.Flags().GetString("peer-listen")
		externalListen, _ := cmd.Flags().GetString("external-listen")
		metricsListen, _ := cmd.Flags().GetString("metrics-listen")
		gatewayAddr, _ := cmd.Flags().GetString("gateway-addr")
		prepareTimeout, _ := cmd.Flags().GetDuration("prepare-timeout")
		stallTimeout, _ := cmd.Flags().GetDuration("stall-timeout")
		reapInterval, _ := cmd.Flags().GetDuration("reap-interval")
		detectorInterval, _ := cmd.Flags().GetDuration("detector-interval")
		detectorMaxMisses, _ := cmd.Flags().GetInt("detector-max-misses")

		sup, err := supervisor.New(supervisor.Config{
			NodeID:             nodeID,
			IsLeader:           isLeader,
			Roster:             roster,
			PeerListenAddr:     peerListen,
			ExternalListenAddr: externalListen,
			ElectionListenAddr: self.UDPAddr,
			MetricsListenAddr:  metricsListen,
			GatewayAddr:        gatewayAddr,
			PrepareTimeout:     prepareTimeout,
			StallTimeout:       stallTimeout,
			ReaperInterval:     reapInterval,
			DetectorInterval:   detectorInterval,
			DetectorMaxMisses:  detectorMaxMisses,
		})
		if err != nil {
			return err
		}

		return sup.Run(context.Background())
	},
}

func init() {
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-console", false, "Human-readable console logs instead of JSON")
	rootCmd.Flags().String("roster", "", `Cluster roster as "id=tcp_addr@udp_addr,..." (required)`)
	rootCmd.Flags().String("peer-listen", ":7100", "Listen address for inter-coordinator traffic")
	rootCmd.Flags().String("external-listen", ":7200", "Listen address for requester/provider/gateway traffic")
	rootCmd.Flags().String("metrics-listen", ":9100", "Listen address for the Prometheus /metrics endpoint (empty disables)")
	rootCmd.Flags().String("gateway-addr", "", "Payment gateway TCP address (empty disables payment authorization)")
	rootCmd.Flags().Duration("prepare-timeout", 2*time.Second, "Two-phase-commit PREPARE phase timeout")
	rootCmd.Flags().Duration("stall-timeout", 5*time.Second, "Provider offer-ack stall timeout before the reaper reclaims it")
	rootCmd.Flags().Duration("reap-interval", time.Second, "How often the reaper sweeps for stalled providers")
	rootCmd.Flags().Duration("detector-interval", 500*time.Millisecond, "Failure-detector ping interval against the believed leader")
	rootCmd.Flags().Int("detector-max-misses", 3, "Consecutive missed pings (or cold-start ticks) before the detector starts an election")
	_ = rootCmd.MarkFlagRequired("roster")
}

// parseRoster parses "id=tcp@udp,id=tcp@udp,..." into a membership.Roster.
func parseRoster(s string) (*membership.Roster, error) {
	if s == "" {
		return nil, fmt.Errorf("empty roster")
	}
	var members []membership.Member
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idPart, addrPart, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("malformed roster entry %q, want id=tcp@udp", entry)
		}
		id, err := strconv.Atoi(idPart)
		if err != nil {
			return nil, fmt.Errorf("malformed node id in %q: %w", entry, err)
		}
		tcpAddr, udpAddr, ok := strings.Cut(addrPart, "@")
		if !ok {
			return nil, fmt.Errorf("malformed address pair in %q, want tcp@udp", entry)
		}
		members = append(members, membership.Member{ID: id, TCPAddr: tcpAddr, UDPAddr: udpAddr})
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("empty roster")
	}
	return membership.NewRoster(members), nil
}
