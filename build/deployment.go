package build

// DeploymentType selects how subsystem loggers are backed. It is fixed at
// compile time by the dev build tag.
type DeploymentType byte

const (
	// Development builds may log straight to stdout when running tests.
	Development DeploymentType = iota

	// Production builds always log through the shared rotating writer.
	Production
)

// String returns the name printed in the startup version line.
func (d DeploymentType) String() string {
	switch d {
	case Development:
		return "development"

	case Production:
		return "production"
	}

	return "unknown"
}
