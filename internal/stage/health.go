package stage

import "context"

// Health summarizes the readiness of a pipeline stage component.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// HealthyWithDetail constructs a ready Health record carrying context.
func HealthyWithDetail(name, detail string) Health {
	return Health{Name: name, Ready: true, Detail: detail}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// Checker is implemented by stage components that can report readiness.
type Checker interface {
	HealthCheck(context.Context) Health
}

// CheckAll runs every checker in order. Nil checkers are skipped.
func CheckAll(ctx context.Context, checkers ...Checker) []Health {
	out := make([]Health, 0, len(checkers))
	for _, checker := range checkers {
		if checker == nil {
			continue
		}
		out = append(out, checker.HealthCheck(ctx))
	}
	return out
}

// AllReady reports whether every record is ready.
func AllReady(records []Health) bool {
	for _, record := range records {
		if !record.Ready {
			return false
		}
	}
	return true
}
