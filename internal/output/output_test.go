package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusWithIcon(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Status("📁", "Project: /tmp/demo")
	assert.Equal(t, "📁 Project: /tmp/demo\n", buf.String())
}

func TestStatusWithoutIcon(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Status("", "indented line")
	assert.Equal(t, "   indented line\n", buf.String())
}

func TestStatusf(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Statusf("📝", "Created %s", ".inkwell.yaml")
	assert.Equal(t, "📝 Created .inkwell.yaml\n", buf.String())
}

func TestSuccessAndWarning(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)
	w.Success("done")
	w.Warning("careful")
	w.Warningf("careful %d", 2)
	w.Error("broken")
	w.Newline()

	out := buf.String()
	assert.Contains(t, out, "✅ done\n")
	assert.Contains(t, out, "⚠️  careful\n")
	assert.Contains(t, out, "⚠️  careful 2\n")
	assert.Contains(t, out, "❌ broken\n")
}
