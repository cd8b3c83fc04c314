package tablestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RESTStore implements Store against an OData table endpoint secured
// by a shared-access token. It is the production collaborator of the
// cleanup engine.
type RESTStore struct {
	endpoint string
	sasToken string
	client   *http.Client
}

// NewRESTStore builds a store for endpoint with the given SAS token.
func NewRESTStore(endpoint, sasToken string) *RESTStore {
	return &RESTStore{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		sasToken: strings.TrimPrefix(sasToken, "?"),
		client:   &http.Client{},
	}
}

func (s *RESTStore) url(path, extraQuery string) string {
	u := s.endpoint + path + "?" + s.sasToken
	if extraQuery != "" {
		u += "&" + extraQuery
	}
	return u
}

// TableExists probes the table resource.
func (s *RESTStore) TableExists(ctx context.Context, table string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.url("/Tables('"+table+"')", ""), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json;odata=nometadata")
	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 400:
		return false, fmt.Errorf("table probe for %s returned %d", table, resp.StatusCode)
	}
	return true, nil
}

type entityDoc struct {
	PartitionKey string    `json:"PartitionKey"`
	RowKey       string    `json:"RowKey"`
	Timestamp    time.Time `json:"Timestamp"`
}

// QueryByTimestamp pages through entities older than cutoff. The
// continuation token round-trips the server's next-partition/next-row
// pair as "<pk>|<rk>".
func (s *RESTStore) QueryByTimestamp(ctx context.Context, table string, cutoff time.Time, continuation string) ([]Row, string, error) {
	query := "$filter=" + strings.ReplaceAll(
		fmt.Sprintf("Timestamp lt datetime'%s'", cutoff.UTC().Format("2006-01-02T15:04:05Z")), " ", "%20")
	query += "&$select=PartitionKey,RowKey,Timestamp"
	if continuation != "" {
		pk, rk, _ := strings.Cut(continuation, "|")
		query += "&NextPartitionKey=" + pk + "&NextRowKey=" + rk
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url("/"+table+"()", query), nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", "application/json;odata=nometadata")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, resp.Body)
		return nil, "", fmt.Errorf("query on %s returned %d", table, resp.StatusCode)
	}

	var payload struct {
		Value []entityDoc `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, "", err
	}
	rows := make([]Row, 0, len(payload.Value))
	for _, e := range payload.Value {
		rows = append(rows, Row{PartitionKey: e.PartitionKey, RowKey: e.RowKey, Timestamp: e.Timestamp})
	}

	next := ""
	if pk := resp.Header.Get("x-ms-continuation-NextPartitionKey"); pk != "" {
		next = pk + "|" + resp.Header.Get("x-ms-continuation-NextRowKey")
	}
	return rows, next, nil
}

const (
	batchBoundary     = "batch_watchdog"
	changesetBoundary = "changeset_watchdog"
)

// BatchDelete submits one delete changeset. The server stops at the
// first failing operation; its status and error code come back as the
// single result so the caller can repair and resubmit.
func (s *RESTStore) BatchDelete(ctx context.Context, table string, rows []Row, opts BatchOptions) ([]BatchResult, error) {
	var body strings.Builder
	fmt.Fprintf(&body, "--%s\r\n", batchBoundary)
	fmt.Fprintf(&body, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", changesetBoundary)
	for _, row := range rows {
		fmt.Fprintf(&body, "--%s\r\n", changesetBoundary)
		body.WriteString("Content-Type: application/http\r\nContent-Transfer-Encoding: binary\r\n\r\n")
		fmt.Fprintf(&body, "DELETE %s/%s(PartitionKey='%s',RowKey='%s') HTTP/1.1\r\n",
			s.endpoint, table, row.PartitionKey, row.RowKey)
		body.WriteString("Accept: application/json;odata=nometadata\r\nIf-Match: *\r\n\r\n")
	}
	fmt.Fprintf(&body, "--%s--\r\n--%s--\r\n", changesetBoundary, batchBoundary)

	query := ""
	if opts.ServerTimeout > 0 {
		query = fmt.Sprintf("timeout=%d", int(opts.ServerTimeout.Seconds()))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url("/$batch", query),
		strings.NewReader(body.String()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "multipart/mixed; boundary="+batchBoundary)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("batch on %s returned %d", table, resp.StatusCode)
	}
	return parseBatchResponse(string(payload), len(rows)), nil
}

// parseBatchResponse extracts per-operation statuses from the batch
// body. A fully successful changeset reports every row as deleted; a
// failed changeset carries a single error part whose code and message
// identify the offending operation.
func parseBatchResponse(body string, rowCount int) []BatchResult {
	var results []BatchResult
	for _, part := range strings.Split(body, "HTTP/1.1 ") {
		if len(part) < 3 {
			continue
		}
		var status int
		if _, err := fmt.Sscanf(part[:3], "%d", &status); err != nil {
			continue
		}
		result := BatchResult{Status: status}
		if status >= 400 {
			if i := strings.Index(part, "{"); i >= 0 {
				var errDoc struct {
					Error struct {
						Code    string `json:"code"`
						Message struct {
							Value string `json:"value"`
						} `json:"message"`
					} `json:"odata.error"`
				}
				if json.Unmarshal([]byte(part[i:]), &errDoc) == nil {
					result.Code = errDoc.Error.Code
					result.Message = errDoc.Error.Message.Value
				}
			}
		}
		results = append(results, result)
	}

	// A single 202/204 response for the whole changeset means every
	// operation succeeded.
	if len(results) == 1 && results[0].Succeeded() {
		out := make([]BatchResult, rowCount)
		for i := range out {
			out[i] = results[0]
		}
		return out
	}
	return results
}
