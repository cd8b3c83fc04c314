package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Durable records are persisted in protobuf wire format with fixed
// field numbers so the on-disk schema stays stable across versions.
// Decoders skip unknown field numbers, which lets old readers tolerate
// fields added later. Durations and timestamps are stored in ticks.
//
// HealthCheck fields:
//   1 name            4 endpoint      7 content     10 expected_ticks  13 warning_code   16 failure_count
//   2 service_name    5 suffix_path   8 media_type  11 maximum_ticks   14 error_code     17 result_code
//   3 partition       6 method        9 freq_ticks  12 header          15 attempt_ticks  18 duration_ms
//
// ScheduledItem fields: 1 execution_ticks, 2 key.
// MetricCheck fields:   1 metric_name (repeated), 2 application, 3 service, 4 partition.
// Header entry fields:  1 name, 2 value.

// EncodeHealthCheck serializes hc.
func EncodeHealthCheck(hc *HealthCheck) []byte {
	var b []byte
	b = appendString(b, 1, hc.Name)
	b = appendString(b, 2, hc.ServiceName)
	if hc.Partition != uuid.Nil {
		b = appendBytes(b, 3, hc.Partition[:])
	}
	if hc.Endpoint != "" {
		b = appendString(b, 4, hc.Endpoint)
	}
	b = appendString(b, 5, hc.SuffixPath)
	b = appendString(b, 6, hc.Method)
	if hc.Content != nil {
		b = appendString(b, 7, *hc.Content)
	}
	if hc.MediaType != nil {
		b = appendString(b, 8, *hc.MediaType)
	}
	b = appendVarint(b, 9, uint64(DurationTicks(hc.Frequency)))
	b = appendVarint(b, 10, uint64(DurationTicks(hc.ExpectedDuration)))
	b = appendVarint(b, 11, uint64(DurationTicks(hc.MaximumDuration)))
	for _, name := range sortedHeaderNames(hc.Headers) {
		var entry []byte
		entry = appendString(entry, 1, name)
		entry = appendString(entry, 2, hc.Headers[name])
		b = appendBytes(b, 12, entry)
	}
	for _, c := range hc.WarningStatusCodes {
		b = appendVarint(b, 13, uint64(c))
	}
	for _, c := range hc.ErrorStatusCodes {
		b = appendVarint(b, 14, uint64(c))
	}
	if hc.LastAttempt != nil {
		b = appendVarint(b, 15, uint64(ToTicks(*hc.LastAttempt)))
	}
	b = appendVarint(b, 16, uint64(hc.FailureCount))
	b = appendVarint(b, 17, uint64(hc.ResultCode))
	b = appendVarint(b, 18, protowire.EncodeZigZag(hc.Duration))
	return b
}

// DecodeHealthCheck parses bytes produced by EncodeHealthCheck,
// skipping any field numbers it does not know.
func DecodeHealthCheck(b []byte) (*HealthCheck, error) {
	hc := &HealthCheck{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(b, &hc.Name)
		case 2:
			return consumeString(b, &hc.ServiceName)
		case 3:
			return consumeUUID(b, &hc.Partition)
		case 4:
			return consumeString(b, &hc.Endpoint)
		case 5:
			return consumeString(b, &hc.SuffixPath)
		case 6:
			return consumeString(b, &hc.Method)
		case 7:
			return consumeOptString(b, &hc.Content)
		case 8:
			return consumeOptString(b, &hc.MediaType)
		case 9:
			return consumeDuration(b, &hc.Frequency)
		case 10:
			return consumeDuration(b, &hc.ExpectedDuration)
		case 11:
			return consumeDuration(b, &hc.MaximumDuration)
		case 12:
			entry, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, protowire.ParseError(n)
			}
			name, value, err := decodeHeaderEntry(entry)
			if err != nil {
				return n, err
			}
			if hc.Headers == nil {
				hc.Headers = make(map[string]string)
			}
			hc.Headers[name] = value
			return n, nil
		case 13:
			return consumeCode(b, &hc.WarningStatusCodes)
		case 14:
			return consumeCode(b, &hc.ErrorStatusCodes)
		case 15:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n, protowire.ParseError(n)
			}
			t := FromTicks(int64(v))
			hc.LastAttempt = &t
			return n, nil
		case 16:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n, protowire.ParseError(n)
			}
			hc.FailureCount = int64(v)
			return n, nil
		case 17:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n, protowire.ParseError(n)
			}
			hc.ResultCode = int(v)
			return n, nil
		case 18:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n, protowire.ParseError(n)
			}
			hc.Duration = protowire.DecodeZigZag(v)
			return n, nil
		}
		return skipField(num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	return hc, nil
}

// EncodeScheduledItem serializes item.
func EncodeScheduledItem(item *ScheduledItem) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(item.ExecutionTicks))
	b = appendString(b, 2, item.Key)
	return b
}

// DecodeScheduledItem parses bytes produced by EncodeScheduledItem.
func DecodeScheduledItem(b []byte) (*ScheduledItem, error) {
	item := &ScheduledItem{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n, protowire.ParseError(n)
			}
			item.ExecutionTicks = int64(v)
			return n, nil
		case 2:
			return consumeString(b, &item.Key)
		}
		return skipField(num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// EncodeMetricCheck serializes mc.
func EncodeMetricCheck(mc *MetricCheck) []byte {
	var b []byte
	for _, name := range mc.MetricNames {
		b = appendString(b, 1, name)
	}
	b = appendString(b, 2, mc.Application)
	if mc.Service != "" {
		b = appendString(b, 3, mc.Service)
	}
	if mc.Partition != uuid.Nil {
		b = appendBytes(b, 4, mc.Partition[:])
	}
	return b
}

// DecodeMetricCheck parses bytes produced by EncodeMetricCheck.
func DecodeMetricCheck(b []byte) (*MetricCheck, error) {
	mc := &MetricCheck{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			var name string
			n, err := consumeString(b, &name)
			if err == nil {
				mc.MetricNames = append(mc.MetricNames, name)
			}
			return n, err
		case 2:
			return consumeString(b, &mc.Application)
		case 3:
			return consumeString(b, &mc.Service)
		case 4:
			return consumeUUID(b, &mc.Partition)
		}
		return skipField(num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	return mc, nil
}

func decodeHeaderEntry(b []byte) (name, value string, err error) {
	err = walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(b, &name)
		case 2:
			return consumeString(b, &value)
		}
		return skipField(num, typ, b)
	})
	return name, value, err
}

func walkFields(b []byte, field func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		n, err := field(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func skipField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return n, protowire.ParseError(n)
	}
	return n, nil
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func consumeString(b []byte, dst *string) (int, error) {
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return n, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func consumeOptString(b []byte, dst **string) (int, error) {
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return n, protowire.ParseError(n)
	}
	*dst = &v
	return n, nil
}

func consumeUUID(b []byte, dst *uuid.UUID) (int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, protowire.ParseError(n)
	}
	id, err := uuid.FromBytes(v)
	if err != nil {
		return n, fmt.Errorf("partition id: %w", err)
	}
	*dst = id
	return n, nil
}

func consumeDuration(b []byte, dst *time.Duration) (int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return n, protowire.ParseError(n)
	}
	*dst = time.Duration(int64(v) * 100)
	return n, nil
}

func consumeCode(b []byte, dst *[]int) (int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return n, protowire.ParseError(n)
	}
	*dst = append(*dst, int(v))
	return n, nil
}

func sortedHeaderNames(headers map[string]string) []string {
	if len(headers) == 0 {
		return nil
	}
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
