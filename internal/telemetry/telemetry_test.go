package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		addr    string
		want    Endpoint
		wantErr bool
	}{
		{addr: "localhost:4317", want: Endpoint{Scheme: "grpc", Host: "localhost:4317"}},
		{addr: "grpc://collector:4317", want: Endpoint{Scheme: "grpc", Host: "collector:4317"}},
		{addr: "GRPCS://collector:4317", want: Endpoint{Scheme: "grpcs", Host: "collector:4317"}},
		{addr: "http://collector:4318", want: Endpoint{Scheme: "http", Host: "collector:4318"}},
		{addr: "https://collector:4318/v1/metrics", want: Endpoint{Scheme: "https", Host: "collector:4318"}},
		{addr: "", wantErr: true},
		{addr: "collector", wantErr: true},
		{addr: "udp://collector:4317", wantErr: true},
		{addr: "http://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got, err := ParseEndpoint(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
