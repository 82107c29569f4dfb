package log

// MultiLogger fans events out to several loggers in order.
type MultiLogger []Logger

// NewMultiLogger combines the non-nil loggers given. It returns NoopLogger
// when none remain and the logger itself when exactly one does.
func NewMultiLogger(loggers ...Logger) Logger {
	var m MultiLogger
	for _, l := range loggers {
		if l != nil {
			m = append(m, l)
		}
	}
	switch len(m) {
	case 0:
		return NoopLogger{}
	case 1:
		return m[0]
	}
	return m
}

// Log forwards event to all loggers.
func (m MultiLogger) Log(event Event) {
	for _, l := range m {
		l.Log(event)
	}
}
