package domain

import "testing"

func TestClassifyPool(t *testing.T) {
	cases := []struct {
		name   string
		status PoolStatus
		want   PoolWarning
	}{
		{"empty pool", PoolStatus{TotalClients: 0, ClientsInUse: 0, ClientsAvailable: 0}, PoolWarningNoClients},
		{"pressure at threshold", PoolStatus{TotalClients: 10, ClientsInUse: 9, ClientsAvailable: 1}, PoolWarningHighPressure},
		{"saturated", PoolStatus{TotalClients: 10, ClientsInUse: 10, ClientsAvailable: 0}, PoolWarningHighPressure},
		{"half used", PoolStatus{TotalClients: 10, ClientsInUse: 5, ClientsAvailable: 5}, PoolWarningNone},
		{"idle", PoolStatus{TotalClients: 10, ClientsInUse: 0, ClientsAvailable: 10}, PoolWarningNone},
		{"no total but available reported", PoolStatus{TotalClients: 0, ClientsInUse: 0, ClientsAvailable: 2}, PoolWarningNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyPool(tc.status); got != tc.want {
				t.Fatalf("ClassifyPool(%+v) = %q, want %q", tc.status, got, tc.want)
			}
		})
	}
}

func TestPoolPressure(t *testing.T) {
	if got := (PoolStatus{TotalClients: 10, ClientsInUse: 9}).Pressure(); got != 0.9 {
		t.Fatalf("pressure = %v, want 0.9", got)
	}
	if got := (PoolStatus{}).Pressure(); got != 0 {
		t.Fatalf("pressure of empty pool = %v, want 0", got)
	}
}
