package services

// ServiceError is a typed error with an HTTP status code. Raw gateway or
// storage errors never leak past the service layer.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string { return e.Message }
