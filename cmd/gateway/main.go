// Command ridecoord-gateway is a standalone payment oracle implementing
// §6's gateway protocol: newline-JSON envelopes carrying
// CheckPaymentAuthorization and MakePayment requests. It exists so
// integration tests and local demo clusters have a real TCP endpoint for
// internal/gatewayclient to talk to, the same role fakeGateway plays
// inline in gatewayclient's own tests.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/dreamware/ridecoord/internal/logging"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ridecoord-gateway",
	Short: "Run a standalone payment gateway oracle",
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		denyAll, _ := cmd.Flags().GetBool("deny-all")
		logLevel, _ := cmd.Flags().GetString("log-level")
		logging.Init(logLevel, false)
		return serve(listen, denyAll)
	},
}

func init() {
	rootCmd.Flags().String("listen", ":7300", "TCP listen address")
	rootCmd.Flags().Bool("deny-all", false, "Deny every CheckPaymentAuthorization call, for testing the abort path")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
}

var log = logging.For("gateway")

type authRequest struct {
	PassengerID int     `json:"passenger_id"`
	Amount      float64 `json:"amount"`
}

type authResponse struct {
	PassengerID int  `json:"passenger_id"`
	Authorized  bool `json:"authorized"`
}

type makePaymentRequest struct {
	PassengerID int     `json:"passenger_id"`
	Amount      float64 `json:"amount"`
}

func serve(listen string, denyAll bool) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("gateway: listen: %w", err)
	}
	defer ln.Close()
	log.Info().Str("addr", listen).Bool("deny_all", denyAll).Msg("gateway listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("gateway: accept: %w", err)
		}
		go handleConn(conn, denyAll)
	}
}

func handleConn(conn net.Conn, denyAll bool) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		resp := handleLine(scanner.Bytes(), denyAll)
		line, err := json.Marshal(resp)
		if err != nil {
			log.Error().Err(err).Msg("marshal reply")
			return
		}
		if _, err := conn.Write(append(line, '\n')); err != nil {
			return
		}
	}
}

func handleLine(line []byte, denyAll bool) map[string]interface{} {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(line, &env); err != nil {
		return map[string]interface{}{"PaymentError": "malformed request"}
	}

	if raw, ok := env["CheckPaymentAuthorization"]; ok {
		var req authRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return map[string]interface{}{"PaymentError": "malformed CheckPaymentAuthorization"}
		}
		log.Info().Int("passenger_id", req.PassengerID).Float64("amount", req.Amount).Msg("authorization requested")
		return map[string]interface{}{
			"CheckPaymentAuthorization": authResponse{PassengerID: req.PassengerID, Authorized: !denyAll},
		}
	}

	if raw, ok := env["MakePayment"]; ok {
		var req makePaymentRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return map[string]interface{}{"PaymentError": "malformed MakePayment"}
		}
		log.Info().Int("passenger_id", req.PassengerID).Float64("amount", req.Amount).Msg("payment captured")
		return map[string]interface{}{"PaymentDone": struct{}{}}
	}

	return map[string]interface{}{"PaymentError": "unknown request"}
}
