package orquesta

import "fmt"

// ValidationError reports a missing or malformed field in an inbound
// request. It is raised at the HTTP boundary and never reaches a run.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("El campo %q es requerido", e.Field)
}

// DeliveryError reports a failed call to the messaging service.
type DeliveryError struct {
	Status int
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("orquesta: delivery failed (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("orquesta: delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ConfigError reports a required setting that is absent.
type ConfigError struct {
	Key string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("orquesta: %s no configurado", e.Key)
}

// StepFailure is the terminal error of a run whose step exhausted its
// attempts. Error returns the message of the underlying step error
// unchanged.
type StepFailure struct {
	Step     string
	Attempts int
	Err      error
}

func (e *StepFailure) Error() string { return e.Err.Error() }

func (e *StepFailure) Unwrap() error { return e.Err }
