package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// TestMonitorChannel returns the Redis PubSub channel name carrying engine
// events for every attempt of a test.
func (r *CacheKeyStruct) TestMonitorChannel(testID string) string {
	return fmt.Sprintf("test:%s:monitor", testID)
}

// AttemptMonitorChannel returns the Redis PubSub channel for a single attempt.
func (r *CacheKeyStruct) AttemptMonitorChannel(attemptID string) string {
	return fmt.Sprintf("attempt:%s:monitor", attemptID)
}

var CacheKey = NewCacheKeyStruct()
