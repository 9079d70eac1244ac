package notify

// PlatformInit performs any process-wide setup the platform backend
// needs before a Source can Start. It is currently a no-op on every
// platform: the Windows backend initializes COM itself on its WMI polling
// goroutine (see runWMIPoll). Callers invoke it once, early.
func PlatformInit() error {
	return platformInit()
}
