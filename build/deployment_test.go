package build

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDeploymentTypeString asserts the names used in the startup log line.
func TestDeploymentTypeString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "development", Development.String())
	require.Equal(t, "production", Production.String())
	require.Equal(t, "unknown", DeploymentType(7).String())
	require.NotEqual(t, "unknown", Deployment.String())
}
