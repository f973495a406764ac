package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/orderdispatch/app"
	"github.com/kilianp07/orderdispatch/config"
	"github.com/kilianp07/orderdispatch/core/dispatch"
	"github.com/kilianp07/orderdispatch/core/factory"
	"github.com/kilianp07/orderdispatch/core/model"
)

const (
	influxOrg    = "e2e_org"
	influxBucket = "e2e_bucket"
	influxToken  = "e2e-token"
)

// startInflux starts an initialized InfluxDB 2.7 container and returns it
// along with the base URL.
func startInflux(ctx context.Context, t *testing.T) (tc.Container, string) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "influxdb:2.7",
		ExposedPorts: []string{"8086/tcp"},
		Env: map[string]string{
			"DOCKER_INFLUXDB_INIT_MODE":        "setup",
			"DOCKER_INFLUXDB_INIT_USERNAME":    "e2e",
			"DOCKER_INFLUXDB_INIT_PASSWORD":    "e2e-password",
			"DOCKER_INFLUXDB_INIT_ORG":         influxOrg,
			"DOCKER_INFLUXDB_INIT_BUCKET":      influxBucket,
			"DOCKER_INFLUXDB_INIT_ADMIN_TOKEN": influxToken,
		},
		WaitingFor: wait.ForHTTP("/health").WithPort("8086/tcp").WithStartupTimeout(60 * time.Second),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("unable to start influx container: %v", err)
	}
	host, _ := cont.Host(ctx)
	port, _ := cont.MappedPort(ctx, "8086")
	return cont, fmt.Sprintf("http://%s:%s", host, port.Port())
}

// startMosquitto spins up a Mosquitto broker accepting anonymous clients.
func startMosquitto(ctx context.Context, t *testing.T) (tc.Container, string) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("unable to start mosquitto: %v", err)
	}
	host, _ := cont.Host(ctx)
	port, _ := cont.MappedPort(ctx, "1883")
	return cont, fmt.Sprintf("tcp://%s:%s", host, port.Port())
}

type apiClient struct {
	t    *testing.T
	base string
}

func (a apiClient) call(method, path, body string, want int, out any) {
	a.t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.base+path, rd)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	require.Equal(a.t, want, resp.StatusCode, "%s %s: %s", method, path, data)
	if out != nil {
		require.NoError(a.t, json.Unmarshal(data, out))
	}
}

// get decodes a GET response; it is safe to call from polling goroutines.
func (a apiClient) get(path string, out any) error {
	resp, err := http.Get(a.base + path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Test_E2E_DispatchFlow runs the service against real Mosquitto and InfluxDB
// brokers: a dispatch is confirmed over HTTP, the warehouse reports the
// shipment done over MQTT and the header completes.
func Test_E2E_DispatchFlow(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skipf("docker not installed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	influxCont, influxURL := startInflux(ctx, t)
	defer influxCont.Terminate(ctx) //nolint:errcheck
	mqttCont, brokerURL := startMosquitto(ctx, t)
	defer mqttCont.Terminate(ctx) //nolint:errcheck

	cfg := &config.Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DSN = filepath.Join(t.TempDir(), "dispatch.db")
	cfg.API.Address = "127.0.0.1:0"
	cfg.MQTT.Enabled = true
	cfg.MQTT.Broker = brokerURL
	cfg.MQTT.ClientID = "orderdispatch-e2e"
	cfg.Journal.Backend = "sqlite"
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	cfg.Metrics.Sinks = []factory.ModuleConfig{{Type: "influx", Conf: map[string]any{
		"url": influxURL, "token": influxToken, "org": influxOrg, "bucket": influxBucket,
	}}}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	svc, err := app.New(cfg)
	require.NoError(t, err)
	defer svc.Close() //nolint:errcheck
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = svc.Run(runCtx) }()
	require.Eventually(t, func() bool { return svc.Addr() != nil }, 10*time.Second, 20*time.Millisecond)

	// a second client plays the warehouse and listens to dispatch events
	opts := paho.NewClientOptions().AddBroker(brokerURL).SetClientID("warehouse-e2e")
	wh := paho.NewClient(opts)
	tok := wh.Connect()
	require.True(t, tok.WaitTimeout(10*time.Second))
	require.NoError(t, tok.Error())
	defer wh.Disconnect(250)
	var mu sync.Mutex
	seen := map[string]int{}
	tok = wh.Subscribe(cfg.MQTT.EventTopic+"/#", 1, func(_ paho.Client, m paho.Message) {
		mu.Lock()
		seen[m.Topic()]++
		mu.Unlock()
	})
	require.True(t, tok.WaitTimeout(10*time.Second))
	require.NoError(t, tok.Error())

	a := apiClient{t: t, base: "http://" + svc.Addr().String()}
	a.call(http.MethodPut, "/api/master-data", `{
  "uoms": [{"id": "each", "name": "Units", "category_id": "unit", "ratio": "1"}],
  "products": [{"id": "p", "name": "Apples", "type": "storable", "uom_id": "each"}],
  "partners": [
    {"id": "cust", "name": "Customer", "company_id": "c1", "active": true},
    {"id": "s1", "name": "School 1", "company_id": "c1", "active": true}
  ],
  "picking_types": [{"id": "out1", "company_id": "c1", "code": "outgoing", "sequence_prefix": "WH/OUT"}]
}`, http.StatusNoContent, nil)
	var addr model.Address
	a.call(http.MethodPost, "/api/addresses", `{"name":"Main","postal_code":"75001","city":"Paris","country":"FR","partner_ids":["s1"]}`, http.StatusCreated, &addr)
	var ov dispatch.OrderView
	a.call(http.MethodPost, "/api/orders", `{"company_id":"c1","customer_id":"cust","delivery_mode":"dispatch","stakeholder_ids":["s1"],"lines":[{"product_id":"p","quantity":"10","unit_price":"2"}]}`, http.StatusCreated, &ov)
	a.call(http.MethodPost, "/api/orders/"+ov.Order.ID+"/confirm", "", http.StatusOK, nil)
	var hv dispatch.HeaderView
	a.call(http.MethodGet, "/api/orders/"+ov.Order.ID+"/dispatch", "", http.StatusOK, &hv)

	var body bytes.Buffer
	require.NoError(t, json.NewEncoder(&body).Encode(map[string]string{
		"order_line_id": ov.Lines[0].ID, "quantity": "10", "stakeholder_id": "s1", "address_id": addr.ID,
	}))
	a.call(http.MethodPost, "/api/dispatches/"+hv.Header.ID+"/lines", body.String(), http.StatusCreated, nil)
	var res dispatch.MaterializeResult
	a.call(http.MethodPost, "/api/dispatches/"+hv.Header.ID+"/confirm", "", http.StatusOK, &res)
	require.Len(t, res.Shipments, 1)

	topic := strings.Replace(cfg.MQTT.ShipmentTopic, "+", res.Shipments[0].ID, 1)
	tok = wh.Publish(topic, 1, false, "done")
	require.True(t, tok.WaitTimeout(10*time.Second))
	require.NoError(t, tok.Error())

	require.Eventually(t, func() bool {
		var v dispatch.HeaderView
		if err := a.get("/api/dispatches/"+hv.Header.ID, &v); err != nil {
			return false
		}
		return v.Header != nil && v.Header.State == model.DispatchDone
	}, 20*time.Second, 100*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[cfg.MQTT.EventTopic+"/header"] > 0 && seen[cfg.MQTT.EventTopic+"/shipment"] > 0
	}, 20*time.Second, 100*time.Millisecond)

	cli := NewInfluxClient(influxURL, influxOrg, influxBucket, influxToken)
	defer cli.Close()
	require.Eventually(t, func() bool {
		n, err := cli.Count(ctx, "shipment_emitted")
		return err == nil && n == 1
	}, 20*time.Second, 200*time.Millisecond)
}
