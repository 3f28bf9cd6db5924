package messaging

// Connection is anything that can report broker connectivity.
type Connection interface {
	IsConnected() bool
}

// HealthStatus represents the health state of a messaging connection.
type HealthStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// CheckHealth reports whether conn is connected to the broker.
func CheckHealth(conn Connection) HealthStatus {
	if conn == nil {
		return HealthStatus{Error: "client is nil"}
	}
	if !conn.IsConnected() {
		return HealthStatus{Error: "not connected to message broker"}
	}
	return HealthStatus{Connected: true}
}
