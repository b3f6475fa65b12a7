package connection

type verdict uint8

const (
	verdictConnected verdict = iota
	verdictRetryFast
	verdictFailed
)

// judge decides what a completed attempt means given the attempts already
// made in this burst. It returns the new attempt count.
//
// Success resets the count. A fatal-fast error fails immediately. Any other
// error retries fast until maxAttempts completed attempts have failed.
func judge(attempts, maxAttempts int, err error) (int, verdict) {
	if err == nil {
		return 0, verdictConnected
	}
	attempts++
	if attempts > maxAttempts {
		attempts = maxAttempts
	}
	if IsFatal(err) || attempts >= maxAttempts {
		return attempts, verdictFailed
	}
	return attempts, verdictRetryFast
}
