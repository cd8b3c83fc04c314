package tablestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchResultSucceeded(t *testing.T) {
	assert.True(t, BatchResult{Status: 204}.Succeeded())
	assert.True(t, BatchResult{Status: 202}.Succeeded())
	assert.False(t, BatchResult{Status: 404}.Succeeded())
	assert.False(t, BatchResult{Status: 500}.Succeeded())
}

func TestFailedIndex(t *testing.T) {
	tests := []struct {
		name    string
		result  BatchResult
		wantIdx int
		wantOK  bool
	}{
		{
			name:    "resource not found with index",
			result:  BatchResult{Code: CodeResourceNotFound, Message: "17:The specified resource does not exist."},
			wantIdx: 17,
			wantOK:  true,
		},
		{
			name:    "index zero",
			result:  BatchResult{Code: CodeResourceNotFound, Message: "0:gone"},
			wantIdx: 0,
			wantOK:  true,
		},
		{
			name:   "other error code",
			result: BatchResult{Code: "EntityAlreadyExists", Message: "3:conflict"},
		},
		{
			name:   "no separator",
			result: BatchResult{Code: CodeResourceNotFound, Message: "no index here"},
		},
		{
			name:   "non numeric index",
			result: BatchResult{Code: CodeResourceNotFound, Message: "abc:detail"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, ok := tt.result.FailedIndex()
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantIdx, idx)
			}
		})
	}
}
