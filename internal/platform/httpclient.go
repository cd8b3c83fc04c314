package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// callTimeout bounds every management call.
const callTimeout = 5 * time.Second

// HTTPClient implements Client against the host platform's HTTP
// management endpoint.
type HTTPClient struct {
	base   string
	client *http.Client
	closed chan struct{}
}

// NewHTTPClient builds a client for the management endpoint at base,
// e.g. "http://localhost:19080".
func NewHTTPClient(base string) *HTTPClient {
	return &HTTPClient{
		base:   strings.TrimSuffix(base, "/"),
		client: &http.Client{Timeout: callTimeout},
		closed: make(chan struct{}),
	}
}

func (c *HTTPClient) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
		c.client.CloseIdleConnections()
	}
	return nil
}

func (c *HTTPClient) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// get issues a GET and decodes the JSON body into out. A 404 maps to
// ErrNotFound, transport faults to ErrTransient.
func (c *HTTPClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if c.isClosed() {
		return ErrClosed
	}
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s returned %d", ErrTransient, path, resp.StatusCode)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) post(ctx context.Context, path string, body interface{}) error {
	if c.isClosed() {
		return ErrClosed
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s returned %d", ErrTransient, path, resp.StatusCode)
	}
	return nil
}

// serviceID flattens a service URI for path construction:
// "fabric:/App/Svc" -> "App/Svc".
func serviceID(serviceName string) string {
	return strings.TrimPrefix(strings.TrimPrefix(serviceName, "fabric:"), "/")
}

type partitionDoc struct {
	ID      uuid.UUID `json:"id"`
	Kind    string    `json:"kind"`
	Status  string    `json:"status"`
	LowKey  int64     `json:"low_key"`
	Name    string    `json:"name"`
	Service string    `json:"service"`
}

func (d partitionDoc) toPartition() Partition {
	p := Partition{ID: d.ID, LowKey: d.LowKey, Name: d.Name}
	switch d.Kind {
	case "singleton":
		p.Kind = PartitionKindSingleton
	case "int64range":
		p.Kind = PartitionKindInt64Range
	case "named":
		p.Kind = PartitionKindNamed
	}
	if d.Status == "ready" {
		p.Status = PartitionStatusReady
	} else {
		p.Status = PartitionStatusNotReady
	}
	return p
}

func (c *HTTPClient) ServiceExists(ctx context.Context, serviceName string, partition uuid.UUID) (bool, error) {
	q := url.Values{}
	if partition != uuid.Nil {
		q.Set("partition", partition.String())
	}
	err := c.get(ctx, "/services/"+serviceID(serviceName), q, nil)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *HTTPClient) FindPartition(ctx context.Context, id uuid.UUID) (*Partition, error) {
	var doc partitionDoc
	err := c.get(ctx, "/partitions/"+id.String(), nil, &doc)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p := doc.toPartition()
	return &p, nil
}

type resolvedDoc struct {
	Endpoints []struct {
		Role      string `json:"role"`
		Listeners []struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"listeners"`
	} `json:"endpoints"`
}

func (c *HTTPClient) ResolveEndpoint(ctx context.Context, serviceName string, key PartitionKey) (*ResolvedEndpoint, error) {
	q := url.Values{}
	switch key.Kind {
	case KeyInt64:
		q.Set("partition_key", fmt.Sprintf("%d", key.Int64))
		q.Set("partition_key_type", "int64")
	case KeyString:
		q.Set("partition_key", key.String)
		q.Set("partition_key_type", "named")
	}
	var doc resolvedDoc
	if err := c.get(ctx, "/services/"+serviceID(serviceName)+"/resolve", q, &doc); err != nil {
		return nil, err
	}
	out := &ResolvedEndpoint{}
	for _, ep := range doc.Endpoints {
		re := ReplicaEndpoint{}
		switch ep.Role {
		case "primary":
			re.Role = RolePrimary
		case "stateless":
			re.Role = RoleStateless
		case "secondary":
			re.Role = RoleActiveSecondary
		}
		for _, l := range ep.Listeners {
			re.Listeners = append(re.Listeners, Listener{Name: l.Name, Address: l.Address})
		}
		out.Endpoints = append(out.Endpoints, re)
	}
	return out, nil
}

func (c *HTTPClient) ReportPartitionHealth(ctx context.Context, partitionID uuid.UUID, report HealthReport) error {
	body := map[string]interface{}{
		"source":              report.Source,
		"property":            report.Property,
		"state":               report.State.String(),
		"description":         report.Description,
		"ttl_seconds":         int(report.TTL.Seconds()),
		"remove_when_expired": report.RemoveWhenExpired,
	}
	return c.post(ctx, "/partitions/"+partitionID.String()+"/health", body)
}

func (c *HTTPClient) ReportLoad(ctx context.Context, values []LoadValue) error {
	body := make([]map[string]interface{}, 0, len(values))
	for _, v := range values {
		body = append(body, map[string]interface{}{"name": v.Name, "value": v.Value})
	}
	return c.post(ctx, "/replica/load", body)
}

type clusterHealthDoc struct {
	AggregatedState string `json:"aggregated_state"`
	Applications    []struct {
		Name  string `json:"name"`
		State string `json:"state"`
	} `json:"applications"`
	Nodes []struct {
		Name  string `json:"name"`
		State string `json:"state"`
	} `json:"nodes"`
}

func parseState(s string) HealthState {
	switch s {
	case "Ok":
		return HealthOk
	case "Warning":
		return HealthWarning
	case "Error":
		return HealthError
	case "Unknown":
		return HealthUnknown
	}
	return HealthInvalid
}

func (c *HTTPClient) ClusterHealth(ctx context.Context, timeout time.Duration) (*ClusterHealth, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var doc clusterHealthDoc
	if err := c.get(callCtx, "/cluster/health", nil, &doc); err != nil {
		return nil, err
	}
	out := &ClusterHealth{AggregatedState: parseState(doc.AggregatedState)}
	for _, a := range doc.Applications {
		out.Applications = append(out.Applications, EntityHealth{Name: a.Name, State: parseState(a.State)})
	}
	for _, n := range doc.Nodes {
		out.Nodes = append(out.Nodes, EntityHealth{Name: n.Name, State: parseState(n.State)})
	}
	return out, nil
}

type loadDoc struct {
	PrimaryLoad   []loadValueDoc `json:"primary_load"`
	SecondaryLoad []loadValueDoc `json:"secondary_load"`
	Load          []loadValueDoc `json:"load"`
}

type loadValueDoc struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

func toLoadValues(docs []loadValueDoc) []LoadValue {
	out := make([]LoadValue, 0, len(docs))
	for _, d := range docs {
		out = append(out, LoadValue{Name: d.Name, Value: d.Value})
	}
	return out
}

func (c *HTTPClient) PartitionLoad(ctx context.Context, id uuid.UUID) (*PartitionLoad, error) {
	var doc loadDoc
	if err := c.get(ctx, "/partitions/"+id.String()+"/load", nil, &doc); err != nil {
		return nil, err
	}
	return &PartitionLoad{
		PrimaryLoad:   toLoadValues(doc.PrimaryLoad),
		SecondaryLoad: toLoadValues(doc.SecondaryLoad),
	}, nil
}

func (c *HTTPClient) ReplicaLoad(ctx context.Context, partitionID uuid.UUID, replicaID int64) (*ReplicaLoad, error) {
	var doc loadDoc
	path := fmt.Sprintf("/partitions/%s/replicas/%d/load", partitionID, replicaID)
	if err := c.get(ctx, path, nil, &doc); err != nil {
		return nil, err
	}
	return &ReplicaLoad{Load: toLoadValues(doc.Load)}, nil
}

func (c *HTTPClient) AppLoad(ctx context.Context, application string) (*ApplicationLoad, error) {
	var doc loadDoc
	if err := c.get(ctx, "/applications/"+application+"/load", nil, &doc); err != nil {
		return nil, err
	}
	return &ApplicationLoad{Load: toLoadValues(doc.Load)}, nil
}

type partitionPageDoc struct {
	Items             []partitionDoc `json:"items"`
	ContinuationToken string         `json:"continuation_token"`
}

func (c *HTTPClient) PartitionList(ctx context.Context, serviceName string, continuation string) (*PartitionPage, error) {
	q := url.Values{}
	if continuation != "" {
		q.Set("continuation", continuation)
	}
	var doc partitionPageDoc
	if err := c.get(ctx, "/services/"+serviceID(serviceName)+"/partitions", q, &doc); err != nil {
		return nil, err
	}
	out := &PartitionPage{ContinuationToken: doc.ContinuationToken}
	for _, d := range doc.Items {
		out.Partitions = append(out.Partitions, d.toPartition())
	}
	return out, nil
}

type replicaPageDoc struct {
	Items []struct {
		ID     int64  `json:"id"`
		Role   string `json:"role"`
		Status string `json:"status"`
	} `json:"items"`
	ContinuationToken string `json:"continuation_token"`
}

func (c *HTTPClient) ReplicaList(ctx context.Context, partitionID uuid.UUID, continuation string) (*ReplicaPage, error) {
	q := url.Values{}
	if continuation != "" {
		q.Set("continuation", continuation)
	}
	var doc replicaPageDoc
	if err := c.get(ctx, "/partitions/"+partitionID.String()+"/replicas", q, &doc); err != nil {
		return nil, err
	}
	out := &ReplicaPage{ContinuationToken: doc.ContinuationToken}
	for _, d := range doc.Items {
		r := Replica{ID: d.ID}
		switch d.Role {
		case "primary":
			r.Role = RolePrimary
		case "stateless":
			r.Role = RoleStateless
		case "secondary":
			r.Role = RoleActiveSecondary
		}
		if d.Status == "ready" {
			r.Status = ReplicaStatusReady
		} else {
			r.Status = ReplicaStatusDown
		}
		out.Replicas = append(out.Replicas, r)
	}
	return out, nil
}
