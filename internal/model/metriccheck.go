package model

import (
	"errors"

	"github.com/google/uuid"
)

// MetricCheck is a load-metric subscription. Application is required;
// Service and Partition narrow the scope.
type MetricCheck struct {
	MetricNames []string  `json:"metric_names"`
	Application string    `json:"application"`
	Service     string    `json:"service,omitempty"`
	Partition   uuid.UUID `json:"partition,omitempty"`
}

// Validate enforces the subscription invariants.
func (mc *MetricCheck) Validate() error {
	if mc.Application == "" {
		return errors.New("application must not be empty")
	}
	if len(mc.MetricNames) == 0 {
		return errors.New("metric_names must not be empty")
	}
	for _, n := range mc.MetricNames {
		if n == "" {
			return errors.New("metric names must not be empty")
		}
	}
	if mc.Partition != uuid.Nil && mc.Service == "" {
		return errors.New("service is required when partition is set")
	}
	return nil
}

// Key is "<app>", "<app>/<svc>" or "<app>/<svc>/<partition>" depending
// on which scope fields are set.
func (mc *MetricCheck) Key() string {
	key := mc.Application
	if mc.Service != "" {
		key += "/" + mc.Service
		if mc.Partition != uuid.Nil {
			key += "/" + mc.Partition.String()
		}
	}
	return key
}

// WantsMetric reports whether name is subscribed.
func (mc *MetricCheck) WantsMetric(name string) bool {
	for _, n := range mc.MetricNames {
		if n == name {
			return true
		}
	}
	return false
}

// MetricFilterPrefix assembles the key prefix for subscription List
// filters, mirroring FilterPrefix without the leading slash.
func MetricFilterPrefix(application, service, partition string) string {
	switch {
	case application != "" && service != "" && partition != "":
		return application + "/" + service + "/" + partition
	case application != "" && service != "":
		return application + "/" + service
	case application != "":
		return application
	}
	return ""
}
