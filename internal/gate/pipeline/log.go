package pipeline

import "github.com/apiary-data/forager.report/internal/gate"

// The pipeline logs through the gate streams; it has no state of its
// own worth a separate prefix.

func opsf(format string, args ...interface{}) {
	gate.Opsf("[pipeline] "+format, args...)
}

func diagf(format string, args ...interface{}) {
	gate.Diagf("[pipeline] "+format, args...)
}
