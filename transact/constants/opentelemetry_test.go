//go:build unit

package constant

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeMetricLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", SanitizeMetricLabel(""))
	assert.Equal(t, "queued", SanitizeMetricLabel("queued"))

	long := strings.Repeat("x", MaxMetricLabelLength+10)
	assert.Len(t, SanitizeMetricLabel(long), MaxMetricLabelLength)

	exact := strings.Repeat("y", MaxMetricLabelLength)
	assert.Equal(t, exact, SanitizeMetricLabel(exact))
}
