package monitoring

import "testing"

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("ping")
	if !called {
		t.Error("custom logger was not called")
	}

	// nil installs a no-op, not a nil func
	called = false
	SetLogger(nil)
	Logf("ping")
	if called {
		t.Error("no-op logger should not invoke the previous callback")
	}
}

func TestLogfDefault(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should not be nil by default")
	}

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()
	Logf("ping: %s", "value")
}
