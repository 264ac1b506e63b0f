package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it to keep a producer from blocking on a channel whose values are not
// needed, such as the partial transcripts of a recognition session.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
