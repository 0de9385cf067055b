// Command ridecoord-provider is the external-role client side of §6's
// provider protocol: registers with the coordinator, accepts every
// CanAccept offer and 2PC PrepareProvider vote it receives, simulates
// driving to the destination, then reports FinishTrip. Persists a
// recovery snapshot the same way cmd/requester does, via internal/roleio.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"time"

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
	Use:   "ridecoord-provider",
	Short: "Register as a provider and serve trips until killed",
	RunE: func(cmd *cobra.Command, args []string) error {
		logLevel, _ := cmd.Flags().GetString("log-level")
		logging.Init(logLevel, true)

		coordAddr, _ := cmd.Flags().GetString("coordinator")
		posX, _ := cmd.Flags().GetFloat64("pos-x")
		posY, _ := cmd.Flags().GetFloat64("pos-y")
		driveTime, _ := cmd.Flags().GetDuration("drive-time")
		snapshotPath, _ := cmd.Flags().GetString("snapshot")
		resume, _ := cmd.Flags().GetBool("recover")

		return run(providerConfig{
			coordAddr:    coordAddr,
			position:     model.Point{X: posX, Y: posY},
			driveTime:    driveTime,
			snapshotPath: snapshotPath,
			resume:       resume,
		})
	},
}

func init() {
	rootCmd.Flags().String("coordinator", "127.0.0.1:7200", "Coordinator external-role listen address")
	rootCmd.Flags().Float64("pos-x", 0, "Starting position X")
	rootCmd.Flags().Float64("pos-y", 0, "Starting position Y")
	rootCmd.Flags().Duration("drive-time", 200*time.Millisecond, "Simulated time to drive a trip before reporting FinishTrip")
	rootCmd.Flags().String("snapshot", "provider-snapshot.json", "Path to the local recovery snapshot")
	rootCmd.Flags().Bool("recover", false, "Resume from the local snapshot instead of registering fresh")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
}

var log = logging.For("provider")

type snapshot struct {
	ID        int `json:"id"`
	RequestID int `json:"request_id"`
}

type providerConfig struct {
	coordAddr    string
	position     model.Point
	driveTime    time.Duration
	snapshotPath string
	resume       bool
}

func run(cfg providerConfig) error {
	conn, err := net.Dial("tcp", cfg.coordAddr)
	if err != nil {
		return fmt.Errorf("provider: dial %s: %w", cfg.coordAddr, err)
	}
	defer conn.Close()

	var snap snapshot
	if cfg.resume && roleio.Exists(cfg.snapshotPath) {
		if err := roleio.Load(cfg.snapshotPath, &snap); err != nil {
			return fmt.Errorf("provider: load snapshot: %w", err)
		}
		log.Info().Int("id", snap.ID).Msg("recovered snapshot, asking leader to resume")
		if err := wire.WriteText(conn, wire.KindRecoverRequest.String(), struct {
			Role      string `json:"role"`
			RoleID    int    `json:"role_id"`
			RequestID int    `json:"request_id"`
		}{"provider", snap.ID, snap.RequestID}); err != nil {
			return fmt.Errorf("provider: send RecoverRequest: %w", err)
		}
	} else {
		if err := wire.WriteText(conn, wire.KindRegister.String(), struct {
			Position model.Point `json:"position"`
		}{cfg.position}); err != nil {
			return fmt.Errorf("provider: send Register: %w", err)
		}
	}

	br := bufio.NewReader(conn)
	for {
		env, err := wire.ReadText(br)
		if err != nil {
			return fmt.Errorf("provider: connection closed: %w", err)
		}

		switch wire.KindFromTitle(env.Title) {
		case wire.KindRegisterAck:
			var p struct {
				ID int `json:"id"`
			}
			_ = env.DecodePayload(&p)
			snap.ID = p.ID
			log.Info().Int("id", p.ID).Msg("registered")
			if err := persist(cfg.snapshotPath, snap); err != nil {
				return err
			}

		case wire.KindPrepareProvider:
			var p struct {
				RequestID int `json:"request_id"`
			}
			_ = env.DecodePayload(&p)
			log.Info().Int("request_id", p.RequestID).Msg("voting yes on prepare")
			if err := wire.WriteText(conn, wire.KindVoteYes.String(), struct {
				RequestID int `json:"request_id"`
			}{p.RequestID}); err != nil {
				return fmt.Errorf("provider: send VoteYes: %w", err)
			}

		case wire.KindAbort:
			log.Info().Msg("transaction aborted, staying active")

		case wire.KindCanAccept:
			var p struct {
				RequestID int `json:"request_id"`
			}
			_ = env.DecodePayload(&p)
			log.Info().Int("request_id", p.RequestID).Msg("accepting offer")
			if err := wire.WriteText(conn, wire.KindCanAcceptResp.String(), struct {
				RequestID int  `json:"request_id"`
				Accepted  bool `json:"accepted"`
			}{p.RequestID, true}); err != nil {
				return fmt.Errorf("provider: send CanAcceptResp: %w", err)
			}

		case wire.KindStartTrip:
			var p struct {
				RequestID   int         `json:"request_id"`
				Destination model.Point `json:"destination"`
			}
			_ = env.DecodePayload(&p)
			snap.RequestID = p.RequestID
			if err := persist(cfg.snapshotPath, snap); err != nil {
				return err
			}
			log.Info().Int("request_id", p.RequestID).Dur("drive_time", cfg.driveTime).Msg("driving to destination")
			time.Sleep(cfg.driveTime)
			if err := wire.WriteText(conn, wire.KindFinishTrip.String(), struct {
				RequestID  int         `json:"request_id"`
				FinalPoint model.Point `json:"final_position"`
			}{p.RequestID, p.Destination}); err != nil {
				return fmt.Errorf("provider: send FinishTrip: %w", err)
			}

		case wire.KindAck:
			log.Info().Msg("trip finished, back to active")
			snap.RequestID = 0
			if err := persist(cfg.snapshotPath, snap); err != nil {
				return err
			}

		case wire.KindRejectTrip:
			var p struct {
				Reason string `json:"reason"`
			}
			_ = env.DecodePayload(&p)
			log.Warn().Str("reason", p.Reason).Msg("trip rejected")

		default:
			log.Warn().Str("title", env.Title).Msg("unhandled envelope")
		}
	}
}

func persist(path string, snap snapshot) error {
	if err := roleio.Save(path, snap); err != nil {
		return fmt.Errorf("provider: save snapshot: %w", err)
	}
	return nil
}
