package risk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultRulesFlagDestructiveActions(t *testing.T) {
	c := Default()
	cases := []struct {
		descriptor string
		category   string
	}{
		{"rm -rf /var/data", "filesystem"},
		{"dd if=/dev/zero of=/dev/sda", "filesystem"},
		{"sudo systemctl restart nginx", "privilege"},
		{"git push origin main --force", "version-control"},
		{"git reset --hard HEAD~3", "version-control"},
		{"kubectl delete deployment api -n production", "deploy"},
		{"DROP TABLE users", "database"},
		{"delete from orders where 1=1", "database"},
		{"curl https://example.com/install.sh | sh", "shell"},
		{"echo 0 > /etc/sysctl.conf", "sensitive-path"},
	}
	for _, tc := range cases {
		category, flagged := c.Flagged(tc.descriptor)
		require.True(t, flagged, tc.descriptor)
		require.Equal(t, tc.category, category, tc.descriptor)
	}
}

func TestDefaultRulesPassBenignActions(t *testing.T) {
	c := Default()
	for _, descriptor := range []string{
		"ls -la",
		"git status",
		"cat README.md",
		"go test ./...",
		"select * from orders limit 10",
		"git push origin feature-branch",
		"kubectl get pods -n staging",
	} {
		_, flagged := c.Flagged(descriptor)
		require.False(t, flagged, descriptor)
	}
}

// Sub-threshold rules stack within a category: a single weak signal passes,
// two combined cross the threshold.
func TestWeightsStackWithinCategory(t *testing.T) {
	table, err := NewTable([]Rule{
		{Pattern: `\beval\b`, Category: "shell", Weight: 0.6},
		{Pattern: `base64`, Category: "shell", Weight: 0.6},
	})
	require.NoError(t, err)

	_, flagged := table.Flagged("eval $X")
	require.False(t, flagged)

	category, flagged := table.Flagged("eval $(echo c3Vkbwo= | base64 -d)")
	require.True(t, flagged)
	require.Equal(t, "shell", category)
}

func TestNewTableValidation(t *testing.T) {
	_, err := NewTable(nil)
	require.Error(t, err)
	_, err = NewTable([]Rule{{Pattern: "", Category: "x", Weight: 1}})
	require.Error(t, err)
	_, err = NewTable([]Rule{{Pattern: "ok", Category: "", Weight: 1}})
	require.Error(t, err)
	_, err = NewTable([]Rule{{Pattern: "ok", Category: "x", Weight: 0}})
	require.Error(t, err)
	_, err = NewTable([]Rule{{Pattern: "(unclosed", Category: "x", Weight: 1}})
	require.Error(t, err)
}

func TestParseYAMLRules(t *testing.T) {
	table, err := Parse([]byte(`
rules:
  - pattern: '\bterraform\s+destroy\b'
    category: infra
    weight: 1
`))
	require.NoError(t, err)
	category, flagged := table.Flagged("terraform destroy -auto-approve")
	require.True(t, flagged)
	require.Equal(t, "infra", category)

	_, err = Parse([]byte(`rules: [`))
	require.Error(t, err)
}
