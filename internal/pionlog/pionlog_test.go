package pionlog

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/pion/logging"
)

var _ logging.LoggerFactory = (*Factory)(nil)

func TestScopedLevels(t *testing.T) {
	var buf bytes.Buffer
	root := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	l := NewFactory(root).NewLogger("ice")

	l.Debugf("hidden %d", 1)
	l.Tracef("hidden %d", 2)
	l.Warnf("candidate %s failed", "host")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("below-level output leaked:\n%s", out)
	}
	for _, want := range []string{"level=WARN", `msg="candidate host failed"`, "component=pion", "scope=ice"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
