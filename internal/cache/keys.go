package cache

import "fmt"

func PublishLockKey(name string) string {
	return fmt.Sprintf("sdkqual:publish:%s", name)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("sdkqual:ratelimit:%s", client)
}
