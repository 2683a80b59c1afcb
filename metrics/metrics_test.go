package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordStoreError(t *testing.T) {
	before := testutil.ToFloat64(StoreErrors.WithLabelValues("append message"))
	RecordStoreError("append message")
	RecordStoreError("append message")

	got := testutil.ToFloat64(StoreErrors.WithLabelValues("append message")) - before
	if got != 2 {
		t.Errorf("Got %v store errors, want 2", got)
	}
}

func TestHandler(t *testing.T) {
	RecordDelivery(DeliveryOffline)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		"messages_persisted_total",
		`message_deliveries_total{outcome="offline"}`,
		"presence_connections",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("Exposition lacks %s", want)
		}
	}
}
