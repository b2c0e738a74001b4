package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/moyoez/readersync/app"
	"github.com/moyoez/readersync/tool"
	"github.com/moyoez/readersync/types"
)

var syncAddress string

var syncCmd = &cobra.Command{
	Use:   "sync [deviceId]",
	Short: "Sync with a discovered device, or with --address directly",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		var strategy types.ConflictResolutionStrategy
		if cmd.Flags().Changed("strategy") {
			strategy = types.ConflictResolutionStrategy(cfg.ConflictStrategy)
		}
		if syncAddress != "" {
			host, port, err := splitAddress(syncAddress, tool.DefaultAPIPort)
			if err != nil {
				return err
			}
			peer := types.DeviceInfo{IPAddress: host, Port: port, Protocol: cfg.Protocol}
			return syncDirect(ctx, cfg, peer, strategy, terminalPrompt)
		}
		if len(args) != 1 {
			return errors.New("a device id or --address is required")
		}
		return syncViaNode(ctx, newControlClient(cfg), args[0], strategy, terminalPrompt)
	},
}

// resolvePrompt asks the user to decide conflicts. Conflicts missing from the
// returned map are left unresolved.
type resolvePrompt func(conflicts []types.DataConflict) (map[string]types.ResolutionChoice, error)

var terminalPrompt = linePrompt(os.Stdin, os.Stdout)

// linePrompt asks one question per conflict on out and reads answers from in.
func linePrompt(in io.Reader, out io.Writer) resolvePrompt {
	scanner := bufio.NewScanner(in)
	return func(conflicts []types.DataConflict) (map[string]types.ResolutionChoice, error) {
		choices := make(map[string]types.ResolutionChoice, len(conflicts))
		for _, c := range conflicts {
			for {
				fmt.Fprintf(out, "%s %s/%s: local %s, remote %s. Keep [l]ocal, [r]emote or [s]kip? ",
					Warning(c.ConflictType), c.EntityKey, c.ConflictField, Info(strconv.Quote(c.LocalData)), Info(strconv.Quote(c.RemoteData)))
				if !scanner.Scan() {
					if err := scanner.Err(); err != nil {
						return nil, err
					}
					return nil, io.ErrUnexpectedEOF
				}
				answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
				switch answer {
				case "l", "local":
					choices[c.ID] = types.ChooseLocal
				case "r", "remote":
					choices[c.ID] = types.ChooseRemote
				case "s", "skip", "":
				default:
					continue
				}
				break
			}
		}
		return choices, nil
	}
}

// syncViaNode asks the running node to sync and follows its status until
// this sync ends. Statuses published before the node accepted the request
// are skipped.
func syncViaNode(ctx context.Context, client *controlClient, deviceID string, strategy types.ConflictResolutionStrategy, prompt resolvePrompt) error {
	accepted, err := client.Sync(ctx, deviceID, strategy)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	var (
		last     string
		prompted bool
	)
	cancel := func() error {
		cctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		return client.Cancel(cctx)
	}
	for {
		select {
		case <-ctx.Done():
			return cancel()
		case <-ticker.C:
		}
		view, err := client.Status(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return cancel()
			}
			return err
		}
		if view.Seq <= accepted.After {
			continue
		}
		if line := formatStatus(view); line != last {
			fmt.Println(line)
			last = line
		}
		switch view.Phase {
		case types.PhaseConflictPending:
			if prompted {
				continue
			}
			prompted = true
			choices, err := prompt(view.Conflicts)
			if err != nil {
				_ = cancel()
				return err
			}
			if err := client.Resolve(ctx, choices); err != nil {
				return err
			}
		case types.PhaseCompleted:
			printUnresolved(view.Unresolved)
			return nil
		case types.PhaseCancelled:
			return nil
		case types.PhaseFailed:
			if view.Error != nil {
				return view.Error
			}
			return errors.New("sync failed")
		}
	}
}

func printUnresolved(unresolved []types.UnresolvedConflict) {
	for _, u := range unresolved {
		fmt.Println(StatusWarning(fmt.Sprintf("%s %s/%s left unresolved: %s", u.ConflictType, u.EntityKey, u.ConflictField, u.Reason)))
	}
}

// syncDirect runs a one-off session from this process against peer.
func syncDirect(ctx context.Context, c tool.AppConfig, peer types.DeviceInfo, strategy types.ConflictResolutionStrategy, prompt resolvePrompt) error {
	node, err := app.New(c)
	if err != nil {
		return err
	}
	defer node.Close()

	watchCtx, stopWatch := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for s := range node.ObserveStatus(watchCtx) {
			if !types.IsBusy(s) {
				continue
			}
			fmt.Println(formatStatus(types.ViewOf(s)))
			pending, ok := s.(types.StatusConflictPending)
			if !ok {
				continue
			}
			choices, err := prompt(pending.Conflicts)
			if err != nil {
				tool.DefaultLogger.Warnf("[Sync] %v", err)
				_ = node.CancelSync()
				continue
			}
			if err := node.SubmitResolution(choices); err != nil {
				tool.DefaultLogger.Warnf("[Sync] %v", err)
			}
		}
	}()

	res, err := node.Manager().SyncWithPeer(ctx, peer, strategy)
	stopWatch()
	<-done
	fmt.Println(formatStatus(types.ViewOf(node.Status())))
	printUnresolved(res.Unresolved)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func splitAddress(addr string, defaultPort int) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, defaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in %q", addr)
	}
	return host, port, nil
}

func init() {
	syncCmd.Flags().StringVar(&syncAddress, "address", "", "sync with host[:port] without discovery")
}
