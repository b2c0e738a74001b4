package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/moyoez/readersync/pairing"
	"github.com/moyoez/readersync/share"
	"github.com/moyoez/readersync/tool"
)

var (
	pairConnect string
	pairPNG     string
)

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Show a pairing QR code, or sync with a scanned code via --connect",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if pairConnect != "" {
			payload, err := pairing.Parse(pairConnect, time.Now())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			c := cfg
			c.Pin = payload.Pin
			fmt.Println(Info("Pairing with " + payload.DeviceName))
			return syncDirect(ctx, c, payload.DeviceInfo(), "", terminalPrompt)
		}

		payload, err := pairingPayload(cmd.Context(), newControlClient(cfg))
		if err != nil {
			return err
		}
		if pairPNG != "" {
			png, err := pairing.PNG(payload, 512)
			if err != nil {
				return err
			}
			if err := os.WriteFile(pairPNG, png, 0o644); err != nil {
				return err
			}
			fmt.Println(StatusSuccess("QR code written to " + pairPNG))
			return nil
		}
		qr, err := pairing.Terminal(payload)
		if err != nil {
			return err
		}
		uri, err := payload.URI()
		if err != nil {
			return err
		}
		fmt.Println(qr)
		fmt.Println(Dim(uri))
		fmt.Printf("Valid until %s\n", time.Unix(payload.Expires, 0).Format(time.TimeOnly))
		return nil
	},
}

func init() {
	pairCmd.Flags().StringVar(&pairConnect, "connect", "", "pairing URI scanned from another device")
	pairCmd.Flags().StringVar(&pairPNG, "png", "", "write the QR code to this PNG file instead of the terminal")
}

// pairingPayload asks the running node for its code, which carries the
// fingerprint of the certificate it serves. Without a node the code is built
// from the config, and an HTTPS peer will trust whatever certificate it meets.
func pairingPayload(ctx context.Context, client *controlClient) (pairing.Payload, error) {
	uri, err := client.PairURI(ctx)
	if err == nil {
		return pairing.Parse(uri, time.Now())
	}
	tool.DefaultLogger.Debugf("[Pair] node not reachable: %v", err)
	ip := share.PrimaryIPv4()
	if ip == "" {
		return pairing.Payload{}, errors.New("no LAN address found for pairing")
	}
	if cfg.Protocol == "https" {
		fmt.Println(StatusWarning("No running node found, the code carries no certificate fingerprint"))
	}
	return pairing.NewPayload(cfg.SelfAnnounce(), ip, cfg.Pin, time.Now(), pairing.DefaultTTL), nil
}
