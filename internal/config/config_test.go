package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultRoleMatrixGrantsSystemRoleSupervisorSubKinds(t *testing.T) {
	t.Parallel()
	matrix := defaultRoleMatrix()
	require.ElementsMatch(t, []string{"memory_lookup", "generate_petition_internal", "validate_section"}, matrix["system"])
}

func TestApplyYAMLOverlayMissingFileIsNotAnError(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	cfg := fromEnv()
	before := cfg.Dispatch.RolePermissionMatrix
	require.NoError(t, applyYAMLOverlay(cfg))
	require.Equal(t, before, cfg.Dispatch.RolePermissionMatrix)
}

func TestApplyYAMLOverlayReplacesRoleMatrixAndProviders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlBody := `
dispatch:
  role_permission_matrix:
    paralegal:
      - case_get
      - memory_lookup
routing:
  providers:
    - name: anthropic
      model: claude-opus
      cost_per_input_k: 0.01
      cost_per_output_k: 0.03
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg := fromEnv()
	require.NoError(t, applyYAMLOverlay(cfg))

	require.Equal(t, map[string][]string{"paralegal": {"case_get", "memory_lookup"}}, cfg.Dispatch.RolePermissionMatrix)
	require.Equal(t, []ProviderConfig{{Name: "anthropic", Model: "claude-opus", CostPerInputK: 0.01, CostPerOutputK: 0.03}}, cfg.Routing.Providers)
}

func TestApplyYAMLOverlayMalformedFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg := fromEnv()
	require.Error(t, applyYAMLOverlay(cfg))
}
