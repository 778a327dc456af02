package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertSpec struct {
	Groups []alertGroup `yaml:"groups"`
}

func TestAlertRules(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "fuelsync.yml"))
	require.NoError(t, err)

	var file alertSpec
	require.NoError(t, yaml.Unmarshal(data, &file))
	require.Len(t, file.Groups, 1)
	group := file.Groups[0]
	assert.Equal(t, "fuelsync", group.Name)

	expected := map[string]struct {
		severity string
		metric   string
	}{
		"HighErrorRate":             {severity: "critical", metric: "fuelsync_http_requests_total"},
		"ReadingConflictsSustained": {severity: "warning", metric: "fuelsync_rejections_total"},
		"PriceTimelineViolation":    {severity: "critical", metric: "fuelsync_price_integrity_violations"},
		"AuditEmitFailures":         {severity: "warning", metric: "fuelsync_audit_emit_failures_total"},
	}
	require.Len(t, group.Rules, len(expected))

	for _, rule := range group.Rules {
		want, ok := expected[rule.Alert]
		require.True(t, ok, "unexpected rule %q", rule.Alert)
		assert.Equal(t, want.severity, rule.Labels["severity"], rule.Alert)
		assert.Contains(t, rule.Expr, want.metric, rule.Alert)
		assert.NotEmpty(t, rule.For, rule.Alert)
		assert.NotEmpty(t, rule.Annotations["summary"], rule.Alert)
		assert.NotEmpty(t, rule.Annotations["description"], rule.Alert)
		assert.True(t, strings.HasPrefix(rule.Annotations["runbook"], "docs/runbook.md#"), rule.Alert)
	}
}
