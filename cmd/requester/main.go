// Command ridecoord-requester is the external-role client side of §6's
// requester protocol: dials the coordinator's external listener, logs in,
// requests a trip, and waits for the terminal StartTrip/RejectTrip/Ack
// sequence, persisting a recovery snapshot after LoginAck and after
// StartTrip via internal/roleio so a crash mid-trip can --recover instead
// of re-logging-in as a new requester id.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"

	"github.com/dreamware/ridecoord/internal/logging"
	"github.com/dreamware/ridecoord/internal/model"
	"github.com/dreamware/ridecoord/internal/roleio"
	"github.com/dreamware/ridecoord/internal/wire"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ridecoord-requester",
	Short: "Log in, request a trip, and follow it to completion",
	RunE: func(cmd *cobra.Command, args []string) error {
		logLevel, _ := cmd.Flags().GetString("log-level")
		logging.Init(logLevel, true)

		coordAddr, _ := cmd.Flags().GetString("coordinator")
		name, _ := cmd.Flags().GetString("name")
		originX, _ := cmd.Flags().GetFloat64("origin-x")
		originY, _ := cmd.Flags().GetFloat64("origin-y")
		destX, _ := cmd.Flags().GetFloat64("dest-x")
		destY, _ := cmd.Flags().GetFloat64("dest-y")
		amount, _ := cmd.Flags().GetFloat64("amount")
		snapshotPath, _ := cmd.Flags().GetString("snapshot")
		resume, _ := cmd.Flags().GetBool("recover")

		return run(requesterConfig{
			coordAddr:    coordAddr,
			name:         name,
			origin:       model.Point{X: originX, Y: originY},
			destination:  model.Point{X: destX, Y: destY},
			amount:       amount,
			snapshotPath: snapshotPath,
			resume:       resume,
		})
	},
}

func init() {
	rootCmd.Flags().String("coordinator", "127.0.0.1:7200", "Coordinator external-role listen address")
	rootCmd.Flags().String("name", "rider", "Requester display name")
	rootCmd.Flags().Float64("origin-x", 0, "Origin X")
	rootCmd.Flags().Float64("origin-y", 0, "Origin Y")
	rootCmd.Flags().Float64("dest-x", 1, "Destination X")
	rootCmd.Flags().Float64("dest-y", 1, "Destination Y")
	rootCmd.Flags().Float64("amount", 10, "Trip fare amount, subject to payment authorization")
	rootCmd.Flags().String("snapshot", "requester-snapshot.json", "Path to the local recovery snapshot")
	rootCmd.Flags().Bool("recover", false, "Resume from the local snapshot instead of logging in fresh")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
}

var log = logging.For("requester")

type requesterConfig struct {
	coordAddr    string
	name         string
	origin       model.Point
	destination  model.Point
	amount       float64
	snapshotPath string
	resume       bool
}

// snapshot is the recovery state persisted after LoginAck and after
// StartTrip, per §6 "Persisted state layout".
type snapshot struct {
	ID        int `json:"id"`
	RequestID int `json:"request_id"`
}

func run(cfg requesterConfig) error {
	conn, err := net.Dial("tcp", cfg.coordAddr)
	if err != nil {
		return fmt.Errorf("requester: dial %s: %w", cfg.coordAddr, err)
	}
	defer conn.Close()

	var snap snapshot
	if cfg.resume && roleio.Exists(cfg.snapshotPath) {
		if err := roleio.Load(cfg.snapshotPath, &snap); err != nil {
			return fmt.Errorf("requester: load snapshot: %w", err)
		}
		log.Info().Int("id", snap.ID).Int("request_id", snap.RequestID).Msg("recovered snapshot, asking leader to resume")
		if err := wire.WriteText(conn, wire.KindRecoverRequest.String(), struct {
			Role      string `json:"role"`
			RoleID    int    `json:"role_id"`
			RequestID int    `json:"request_id"`
		}{"requester", snap.ID, snap.RequestID}); err != nil {
			return fmt.Errorf("requester: send RecoverRequest: %w", err)
		}
	} else {
		if err := wire.WriteText(conn, wire.KindLogin.String(), struct {
			Name     string      `json:"name"`
			Position model.Point `json:"position"`
		}{cfg.name, cfg.origin}); err != nil {
			return fmt.Errorf("requester: send Login: %w", err)
		}
	}

	br := bufio.NewReader(conn)
	for {
		env, err := wire.ReadText(br)
		if err != nil {
			return fmt.Errorf("requester: connection closed: %w", err)
		}

		switch wire.KindFromTitle(env.Title) {
		case wire.KindLoginAck:
			var p struct {
				ID int `json:"id"`
			}
			_ = env.DecodePayload(&p)
			snap.ID = p.ID
			log.Info().Int("id", p.ID).Msg("logged in")
			if err := persist(cfg.snapshotPath, snap); err != nil {
				return err
			}
			if err := wire.WriteText(conn, wire.KindRequestTrip.String(), struct {
				Origin      model.Point `json:"origin"`
				Destination model.Point `json:"destination"`
				Amount      float64     `json:"amount"`
			}{cfg.origin, cfg.destination, cfg.amount}); err != nil {
				return fmt.Errorf("requester: send RequestTrip: %w", err)
			}

		case wire.KindStartTrip:
			var p struct {
				RequestID int `json:"request_id"`
			}
			_ = env.DecodePayload(&p)
			snap.RequestID = p.RequestID
			log.Info().Int("request_id", p.RequestID).Msg("trip started")
			if err := persist(cfg.snapshotPath, snap); err != nil {
				return err
			}

		case wire.KindAck:
			log.Info().Msg("trip completed")
			return nil

		case wire.KindRejectTrip:
			var p struct {
				Reason string `json:"reason"`
			}
			_ = env.DecodePayload(&p)
			return fmt.Errorf("requester: trip rejected: %s", p.Reason)

		default:
			log.Warn().Str("title", env.Title).Msg("unhandled envelope")
		}
	}
}

func persist(path string, snap snapshot) error {
	if err := roleio.Save(path, snap); err != nil {
		return fmt.Errorf("requester: save snapshot: %w", err)
	}
	return nil
}
