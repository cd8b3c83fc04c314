// Package model holds the durable records of the watchdog: registered
// health checks, the execution schedule and metric subscriptions,
// together with their keys, validation and binary codec.
package model

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Defaults applied to a HealthCheck on registration.
const (
	DefaultFrequency        = 60 * time.Second
	DefaultExpectedDuration = 200 * time.Millisecond
	DefaultMaximumDuration  = 5 * time.Second
)

// HealthCheck is a registered HTTP probe plus the result of its most
// recent execution.
type HealthCheck struct {
	Name        string    `json:"name"`
	ServiceName string    `json:"service_name"`
	Partition   uuid.UUID `json:"partition"`
	Endpoint    string    `json:"endpoint,omitempty"`
	SuffixPath  string    `json:"suffix_path"`
	Method      string    `json:"method,omitempty"`
	Content     *string   `json:"content,omitempty"`
	MediaType   *string   `json:"media_type,omitempty"`

	Frequency        time.Duration `json:"frequency,omitempty"`
	ExpectedDuration time.Duration `json:"expected_duration,omitempty"`
	MaximumDuration  time.Duration `json:"maximum_duration,omitempty"`

	Headers            map[string]string `json:"headers,omitempty"`
	WarningStatusCodes []int             `json:"warning_status_codes,omitempty"`
	ErrorStatusCodes   []int             `json:"error_status_codes,omitempty"`

	// Result fields, written only by the engine after each probe.
	LastAttempt  *time.Time `json:"last_attempt,omitempty"`
	FailureCount int64      `json:"failure_count"`
	ResultCode   int        `json:"result_code"`
	// Duration is the elapsed probe time in milliseconds, -1 when the
	// request failed before a response arrived.
	Duration int64 `json:"duration"`
}

// ApplyDefaults fills the optional fields a registration may omit.
func (hc *HealthCheck) ApplyDefaults() {
	if hc.Method == "" {
		hc.Method = http.MethodGet
	}
	if hc.Frequency <= 0 {
		hc.Frequency = DefaultFrequency
	}
	if hc.ExpectedDuration <= 0 {
		hc.ExpectedDuration = DefaultExpectedDuration
	}
	if hc.MaximumDuration <= 0 {
		hc.MaximumDuration = DefaultMaximumDuration
	}
}

// Validate enforces the registration invariants.
func (hc *HealthCheck) Validate() error {
	if hc.Name == "" {
		return errors.New("name must not be empty")
	}
	if _, err := ServicePath(hc.ServiceName); err != nil {
		return err
	}
	if hc.SuffixPath == "" {
		return errors.New("suffix_path must not be empty")
	}
	if hc.Content != nil && hc.MediaType == nil {
		return errors.New("media_type is required when content is set")
	}
	if hc.Frequency < 0 {
		return errors.New("frequency must be positive")
	}
	return nil
}

// Key is the durable identity of this check:
// "<service absolute path>/<partition>".
func (hc *HealthCheck) Key() string {
	path, _ := ServicePath(hc.ServiceName)
	return path + "/" + PartitionString(hc.Partition)
}

// IsWarningCode reports whether code is configured as a warning.
func (hc *HealthCheck) IsWarningCode(code int) bool { return containsCode(hc.WarningStatusCodes, code) }

// IsErrorCode reports whether code is configured as an error.
func (hc *HealthCheck) IsErrorCode(code int) bool { return containsCode(hc.ErrorStatusCodes, code) }

// IsSuccessCode reports whether code is a 2xx status.
func IsSuccessCode(code int) bool { return code >= 200 && code <= 299 }

func containsCode(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// ServicePath extracts the absolute path of a service URI, e.g.
// "fabric:/App/Svc" -> "/App/Svc". The URI must be absolute.
func ServicePath(serviceName string) (string, error) {
	u, err := url.Parse(serviceName)
	if err != nil {
		return "", errors.New("service_name must be a valid URI")
	}
	if u.Scheme == "" || u.Path == "" || !strings.HasPrefix(u.Path, "/") {
		return "", errors.New("service_name must be an absolute URI")
	}
	return u.Path, nil
}

// PartitionString renders a partition id for key construction; the nil
// id renders empty so singleton registrations keep a stable key.
func PartitionString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

// FilterPrefix assembles the key prefix for List filters. All three
// filters yield "/{app}/{svc}/{part}", two "/{app}/{svc}", one
// "/{app}", none an empty prefix that matches every key.
func FilterPrefix(application, service, partition string) string {
	switch {
	case application != "" && service != "" && partition != "":
		return "/" + application + "/" + service + "/" + partition
	case application != "" && service != "":
		return "/" + application + "/" + service
	case application != "":
		return "/" + application
	}
	return ""
}
