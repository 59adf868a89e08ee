package interfaces

// Service is what every interface exposed by the daemon, like the operator
// HTTP API, must implement.
type Service interface {
	Start() error
	Stop()
}
