package engine

import (
	"testing"

	"bdqcore/testutil"
)

// TestEngineIndependentOfInfra keeps the dependency arrow pointing one way:
// the service and CLI layers embed the engine, never the reverse. A job run
// must stay possible with nothing but a registry and a provider.
func TestEngineIndependentOfInfra(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImportForbidden,
		"the engine runs without storage or transport")

	testutil.AssertNoTransitiveDependency(t, ".", testutil.InfraImportForbidden,
		"infra layers depend on the engine, never the reverse")
}
