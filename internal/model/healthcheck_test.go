package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults(t *testing.T) {
	hc := HealthCheck{Name: "c", ServiceName: "fabric:/App/Svc", SuffixPath: "health"}
	hc.ApplyDefaults()

	assert.Equal(t, "GET", hc.Method)
	assert.Equal(t, DefaultFrequency, hc.Frequency)
	assert.Equal(t, DefaultExpectedDuration, hc.ExpectedDuration)
	assert.Equal(t, DefaultMaximumDuration, hc.MaximumDuration)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	hc := HealthCheck{
		Method:           "HEAD",
		Frequency:        5 * time.Minute,
		ExpectedDuration: time.Second,
		MaximumDuration:  10 * time.Second,
	}
	hc.ApplyDefaults()

	assert.Equal(t, "HEAD", hc.Method)
	assert.Equal(t, 5*time.Minute, hc.Frequency)
	assert.Equal(t, time.Second, hc.ExpectedDuration)
	assert.Equal(t, 10*time.Second, hc.MaximumDuration)
}

func TestHealthCheckValidate(t *testing.T) {
	valid := HealthCheck{Name: "c", ServiceName: "fabric:/App/Svc", SuffixPath: "health"}

	tests := []struct {
		name    string
		mutate  func(hc *HealthCheck)
		wantErr bool
	}{
		{name: "valid", mutate: func(hc *HealthCheck) {}},
		{name: "empty name", mutate: func(hc *HealthCheck) { hc.Name = "" }, wantErr: true},
		{name: "relative service uri", mutate: func(hc *HealthCheck) { hc.ServiceName = "App/Svc" }, wantErr: true},
		{name: "empty service", mutate: func(hc *HealthCheck) { hc.ServiceName = "" }, wantErr: true},
		{name: "empty suffix", mutate: func(hc *HealthCheck) { hc.SuffixPath = "" }, wantErr: true},
		{name: "content without media type", mutate: func(hc *HealthCheck) {
			body := "{}"
			hc.Content = &body
		}, wantErr: true},
		{name: "content with media type", mutate: func(hc *HealthCheck) {
			body, mt := "{}", "application/json"
			hc.Content, hc.MediaType = &body, &mt
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := valid
			tt.mutate(&hc)
			err := hc.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHealthCheckKey(t *testing.T) {
	id := uuid.MustParse("5f0f1a4a-1e4c-4aa2-8f6a-12f25dcb4a77")
	hc := HealthCheck{ServiceName: "fabric:/App/Svc", Partition: id}
	assert.Equal(t, "/App/Svc/5f0f1a4a-1e4c-4aa2-8f6a-12f25dcb4a77", hc.Key())

	// Singleton registrations have no partition id; the key stays
	// stable with a trailing separator.
	hc.Partition = uuid.Nil
	assert.Equal(t, "/App/Svc/", hc.Key())
}

func TestStatusCodeClassification(t *testing.T) {
	hc := HealthCheck{WarningStatusCodes: []int{403, 429}, ErrorStatusCodes: []int{500}}

	assert.True(t, hc.IsWarningCode(403))
	assert.False(t, hc.IsWarningCode(404))
	assert.True(t, hc.IsErrorCode(500))
	assert.False(t, hc.IsErrorCode(502))

	assert.True(t, IsSuccessCode(200))
	assert.True(t, IsSuccessCode(204))
	assert.True(t, IsSuccessCode(299))
	assert.False(t, IsSuccessCode(300))
	assert.False(t, IsSuccessCode(199))
}

func TestServicePath(t *testing.T) {
	path, err := ServicePath("fabric:/App/Svc")
	assert.NoError(t, err)
	assert.Equal(t, "/App/Svc", path)

	_, err = ServicePath("App/Svc")
	assert.Error(t, err)
	_, err = ServicePath("fabric:")
	assert.Error(t, err)
}

func TestFilterPrefix(t *testing.T) {
	assert.Equal(t, "", FilterPrefix("", "", ""))
	assert.Equal(t, "/App", FilterPrefix("App", "", ""))
	assert.Equal(t, "/App/Svc", FilterPrefix("App", "Svc", ""))
	assert.Equal(t, "/App/Svc/p1", FilterPrefix("App", "Svc", "p1"))
	// A partition without a service does not narrow the filter.
	assert.Equal(t, "/App", FilterPrefix("App", "", "p1"))
}

func TestMetricCheckValidate(t *testing.T) {
	mc := MetricCheck{MetricNames: []string{"RPS"}, Application: "App"}
	assert.NoError(t, mc.Validate())

	assert.Error(t, (&MetricCheck{MetricNames: []string{"RPS"}}).Validate())
	assert.Error(t, (&MetricCheck{Application: "App"}).Validate())
	assert.Error(t, (&MetricCheck{MetricNames: []string{""}, Application: "App"}).Validate())
	assert.Error(t, (&MetricCheck{
		MetricNames: []string{"RPS"}, Application: "App", Partition: uuid.New(),
	}).Validate())
}

func TestMetricCheckKey(t *testing.T) {
	id := uuid.MustParse("e7a9cf30-7c8e-44a9-b410-b96f2be1c1d0")
	assert.Equal(t, "App", (&MetricCheck{Application: "App"}).Key())
	assert.Equal(t, "App/Svc", (&MetricCheck{Application: "App", Service: "Svc"}).Key())
	assert.Equal(t, "App/Svc/e7a9cf30-7c8e-44a9-b410-b96f2be1c1d0",
		(&MetricCheck{Application: "App", Service: "Svc", Partition: id}).Key())
}

func TestWantsMetric(t *testing.T) {
	mc := MetricCheck{MetricNames: []string{"RPS", "Latency"}}
	assert.True(t, mc.WantsMetric("RPS"))
	assert.False(t, mc.WantsMetric("QueueDepth"))
}
