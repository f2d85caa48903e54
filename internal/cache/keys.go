package cache

import "fmt"

func RateLimitKey(subject string) string {
	return fmt.Sprintf("ratelimit:%s", subject)
}

func OutcomeStashKey(conversationID string) string {
	return fmt.Sprintf("outcome:%s", conversationID)
}
