package dedupe

// Option configures the in-memory deduper.
type Option func(*inMemoryDeduper)

// WithWindow sets how many recent IDs are remembered. Zero or less means
// unbounded.
func WithWindow(n int) Option {
	return func(d *inMemoryDeduper) {
		d.window = n
	}
}
