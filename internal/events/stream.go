package events

// Stream runs producer in its own goroutine and yields encoded frames lazily,
// in emission order. The returned channel is closed when the producer returns.
// Events that fail to encode are dropped; payloads are plain structs so this
// only happens on programmer error.
func Stream(producer func(emit func(Event))) <-chan string {
	frames := make(chan string)
	go func() {
		defer close(frames)
		producer(func(e Event) {
			frame, err := FormatFrame(e)
			if err != nil {
				return
			}
			frames <- frame
		})
	}()
	return frames
}
