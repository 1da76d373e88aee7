package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func TestNew(t *testing.T) {
	l, err := New("release")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, l.Core().Enabled(zapcore.DebugLevel), test.ShouldBeFalse)

	l, err = New("debug")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, l.Core().Enabled(zapcore.DebugLevel), test.ShouldBeTrue)
	Sync(nil)
}
