package tool

import (
	"fmt"
	"time"

	ttlworker "github.com/FloatTech/ttl"
)

const (
	DefaultSessionTTL = 10 * time.Minute
)

// SessionCache tracks inbound sync sessions accepted by the responder.
var SessionCache = ttlworker.NewCache[string, string](DefaultSessionTTL)

// JoinSession records sessionId as owned by deviceId.
func JoinSession(sessionId, deviceId string) error {
	if SessionCache.Get(sessionId) != "" {
		return fmt.Errorf("session %s already joined", sessionId)
	}
	SessionCache.Set(sessionId, deviceId)
	DefaultLogger.Debugf("Session %s joined by %s", sessionId, deviceId)
	return nil
}

func QuerySessionIsValid(sessionId string) bool {
	valid := SessionCache.Get(sessionId) != ""
	DefaultLogger.Debugf("Session %s valid: %v", sessionId, valid)
	return valid
}

func DestroySession(sessionId string) {
	SessionCache.Delete(sessionId)
	DefaultLogger.Debugf("Session %s destroyed", sessionId)
}
