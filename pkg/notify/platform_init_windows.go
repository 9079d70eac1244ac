//go:build windows

package notify

// platformInit is a no-op on Windows: COM is initialized per-goroutine in
// runWMIPoll using the multithreaded apartment, which carries no thread
// affinity requirement, so there is nothing process-wide left to do here.
func platformInit() error { return nil }
