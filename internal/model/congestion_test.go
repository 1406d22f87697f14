package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    APID
		wantErr bool
	}{
		{"string", `"ap1"`, "ap1", false},
		{"number", `4`, "ap4", false},
		{"null", `null`, "", false},
		{"negative", `-1`, "", true},
		{"fraction", `1.5`, "", true},
		{"object", `{}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id APID
			err := json.Unmarshal([]byte(tt.input), &id)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestDPID_String(t *testing.T) {
	assert.Equal(t, "0000000000000003", DPID(3).String())
}

func TestMatch_IsCatchAll(t *testing.T) {
	assert.True(t, Match{}.IsCatchAll())
	assert.False(t, Match{InPort: 1}.IsCatchAll())
}
