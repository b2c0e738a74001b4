package cmd

import (
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/moyoez/readersync/types"
)

var (
	Success = color.New(color.FgGreen).SprintFunc()
	Failure = color.New(color.FgRed).SprintFunc()
	Warning = color.New(color.FgYellow).SprintFunc()
	Info    = color.New(color.FgCyan).SprintFunc()
	Dim     = color.New(color.Faint).SprintFunc()
	Header  = color.New(color.FgCyan, color.Bold).SprintFunc()
)

func StatusSuccess(msg string) string { return Success("✓") + " " + msg }
func StatusError(msg string) string   { return Failure("✗") + " " + msg }
func StatusWarning(msg string) string { return Warning("⚠") + " " + msg }

// formatStatus renders one status line for the terminal.
func formatStatus(v types.StatusView) string {
	switch v.Phase {
	case types.PhaseIdle:
		return Dim("idle")
	case types.PhaseDiscovering:
		return Info("discovering devices")
	case types.PhaseSyncing:
		return fmt.Sprintf("%s %s %3.0f%% %s", Info("syncing with"), v.DeviceName, v.Progress*100, Dim(v.CurrentItem))
	case types.PhaseConflictPending:
		return StatusWarning(fmt.Sprintf("%d conflicts with %s need a decision", len(v.Conflicts), v.DeviceName))
	case types.PhaseCompleted:
		line := StatusSuccess(fmt.Sprintf("synced %d items with %s in %s", v.ItemsSynced, v.DeviceName, time.Duration(v.DurationMs)*time.Millisecond))
		if len(v.Unresolved) > 0 {
			line += " " + Warning(fmt.Sprintf("(%d conflict(s) left unresolved)", len(v.Unresolved)))
		}
		return line
	case types.PhaseFailed:
		msg := "sync failed"
		if v.Error != nil {
			msg = v.Error.Message
		}
		if v.Suggestion != "" {
			msg += " " + Dim("("+v.Suggestion+")")
		}
		return StatusError(msg)
	case types.PhaseCancelled:
		return StatusWarning("sync with " + v.DeviceName + " cancelled")
	}
	return string(v.Phase)
}

func formatDevice(d types.DiscoveredDevice, lastSync *time.Time) string {
	reach := Success("reachable")
	if !d.IsReachable {
		reach = Warning("unreachable")
	}
	last := Dim("never synced")
	if lastSync != nil {
		last = Dim("last sync " + lastSync.Format(time.DateTime))
	}
	return fmt.Sprintf("%-24s %-10s %-21s %s  %s  %s", d.Info.DeviceName, d.Info.DeviceType, d.Info.Address(), reach, Dim(d.Info.DeviceID), last)
}
