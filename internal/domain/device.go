package domain

// Device is a discovered cast target. Discovery owns creation; the address
// may go stale, in which case the device must be rediscovered.
type Device struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}
