package healthcheck

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/model"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/platform"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/store"
)

// probe resolves the partition endpoint, issues the HTTP request and
// publishes the verdict. It returns the updated health-check record;
// the only error it surfaces is an unresolvable partition kind, which
// is an invariant violation.
func (e *Engine) probe(ctx context.Context, hc *model.HealthCheck, part *platform.Partition) (*model.HealthCheck, error) {
	key, err := platform.KeyForPartition(part)
	if err != nil {
		return nil, store.NewError(store.ClassFatal, "partition "+part.ID.String(), err)
	}

	resolved, err := e.handle.Client().ResolveEndpoint(ctx, hc.ServiceName, key)
	if err != nil {
		e.log.Warn("endpoint resolution failed",
			zap.String("service", hc.ServiceName), zap.Error(err))
		return e.probeFailed(ctx, hc, part), nil
	}
	base := selectAddress(resolved, hc.Endpoint)
	if base == "" {
		e.log.Warn("no eligible endpoint",
			zap.String("service", hc.ServiceName), zap.String("endpoint", hc.Endpoint))
		return e.probeFailed(ctx, hc, part), nil
	}

	started := e.now()
	code, elapsed, err := e.request(ctx, hc, base)
	if err != nil {
		e.log.Warn("probe request failed",
			zap.String("service", hc.ServiceName), zap.String("url", base), zap.Error(err))
		return e.probeFailed(ctx, hc, part), nil
	}

	verdict, success := classify(hc, code)
	e.publish(ctx, hc, part, verdict, started, elapsed, success)

	result := *hc
	result.LastAttempt = &started
	result.ResultCode = code
	result.Duration = elapsed.Milliseconds()
	if success {
		result.FailureCount = 0
	} else {
		result.FailureCount = hc.FailureCount + 1
	}
	return &result, nil
}

// probeFailed builds the record for a probe that died before a
// response arrived: duration -1, result code 500, failure count up.
func (e *Engine) probeFailed(ctx context.Context, hc *model.HealthCheck, part *platform.Partition) *model.HealthCheck {
	started := e.now()
	e.publish(ctx, hc, part, platform.HealthError, started, -1, false)

	result := *hc
	result.LastAttempt = &started
	result.ResultCode = http.StatusInternalServerError
	result.Duration = -1
	result.FailureCount = hc.FailureCount + 1
	return &result
}

// request performs the probe with the check's hard cutoff applied.
func (e *Engine) request(ctx context.Context, hc *model.HealthCheck, base string) (int, time.Duration, error) {
	url := strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(hc.SuffixPath, "/")

	reqCtx, cancel := context.WithTimeout(ctx, hc.MaximumDuration)
	defer cancel()

	var body io.Reader
	if hc.Content != nil {
		body = strings.NewReader(*hc.Content)
	}
	req, err := http.NewRequestWithContext(reqCtx, hc.Method, url, body)
	if err != nil {
		return 0, 0, err
	}
	for name, value := range hc.Headers {
		req.Header.Set(name, value)
	}
	if hc.MediaType != nil {
		req.Header.Set("Content-Type", *hc.MediaType)
	}

	started := time.Now()
	resp, err := e.client.Do(req)
	elapsed := time.Since(started)
	if err != nil {
		return 0, elapsed, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, elapsed, nil
}

// classify maps the response status of the current probe to a verdict:
// configured warning codes first, then configured error codes, then
// 2xx success; anything else is an error.
func classify(hc *model.HealthCheck, code int) (platform.HealthState, bool) {
	switch {
	case hc.IsWarningCode(code):
		return platform.HealthWarning, false
	case hc.IsErrorCode(code):
		return platform.HealthError, false
	case model.IsSuccessCode(code):
		return platform.HealthOk, true
	}
	return platform.HealthError, false
}

// publish posts the verdict as a partition-health event and the probe
// outcome as availability telemetry. Reporting failures are logged and
// absorbed; they never fail the probe.
func (e *Engine) publish(ctx context.Context, hc *model.HealthCheck, part *platform.Partition,
	verdict platform.HealthState, attempted time.Time, elapsed time.Duration, success bool) {
	report := platform.HealthReport{
		Source:            "Watchdog",
		Property:          hc.Name,
		State:             verdict,
		TTL:               hc.Frequency + 30*time.Second,
		RemoveWhenExpired: true,
	}
	if err := e.handle.Client().ReportPartitionHealth(ctx, part.ID, report); err != nil {
		e.log.Warn("partition health report failed", zap.Error(err))
	}
	err := e.sink.ReportAvailability(ctx, hc.ServiceName, model.PartitionString(hc.Partition),
		hc.Name, attempted, elapsed, e.location, success)
	if err != nil {
		e.log.Warn("availability report failed", zap.Error(err))
	}
}

// selectAddress picks the probe base address: the first endpoint whose
// replica role is primary or stateless, then the named listener when
// the check asks for one, otherwise the endpoint's first listener.
func selectAddress(resolved *platform.ResolvedEndpoint, listenerName string) string {
	if resolved == nil {
		return ""
	}
	for _, ep := range resolved.Endpoints {
		if ep.Role != platform.RolePrimary && ep.Role != platform.RoleStateless {
			continue
		}
		if len(ep.Listeners) == 0 {
			continue
		}
		if listenerName == "" {
			return ep.Listeners[0].Address
		}
		for _, l := range ep.Listeners {
			if l.Name == listenerName {
				return l.Address
			}
		}
		return ""
	}
	return ""
}
