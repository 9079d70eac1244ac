//go:build !windows

package notify

func platformInit() error { return nil }
