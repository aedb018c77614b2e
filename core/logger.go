package core

// Logger is the application-wide logging contract. Implementations may ship
// entries to an external tracker in addition to local output.
//
// expected args fmt: error | map[string]interface{} | user identity values
type Logger interface {
	Enable(enabled bool)
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
