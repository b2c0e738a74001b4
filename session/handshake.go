package session

import (
	"fmt"
	"slices"
	"strings"

	"github.com/moyoez/readersync/types"
)

func majorVersion(v string) string {
	major, _, _ := strings.Cut(strings.TrimSpace(v), ".")
	return major
}

// checkVersion accepts peers with the same major protocol version.
func checkVersion(remote string) error {
	if remote == "" || majorVersion(remote) != majorVersion(types.ProtocolVersion) {
		return types.ProtocolMismatchError(fmt.Sprintf(
			"The other device speaks sync protocol %q, this one speaks %q", remote, types.ProtocolVersion))
	}
	return nil
}

// intersect keeps the capabilities both sides support, in canonical order.
func intersect(local, remote []string) ([]string, error) {
	var scope []string
	for _, c := range types.AllCapabilities {
		if slices.Contains(local, c) && slices.Contains(remote, c) {
			scope = append(scope, c)
		}
	}
	if len(scope) == 0 {
		return nil, types.ProtocolMismatchError("The devices have no data type in common to sync")
	}
	return scope, nil
}
