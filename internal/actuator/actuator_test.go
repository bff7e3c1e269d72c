package actuator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netwarden/internal/config"
	"netwarden/internal/response"
)

type recordedCmd struct {
	name string
	args []string
}

func recorder(calls *[]recordedCmd, err error) Runner {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, recordedCmd{name: name, args: append([]string(nil), args...)})
		if err != nil {
			return []byte("permission denied"), err
		}
		return nil, nil
	}
}

func TestIPTablesCommands(t *testing.T) {
	var calls []recordedCmd
	fw := NewIPTables("", true, nil)
	fw.run = recorder(&calls, nil)

	require.NoError(t, fw.Block(context.Background(), "::ffff:203.0.113.7"))
	require.NoError(t, fw.Unblock(context.Background(), "203.0.113.7"))
	require.Len(t, calls, 2)
	assert.Equal(t, "sudo", calls[0].name)
	assert.Equal(t, []string{"iptables", "-I", "INPUT", "-s", "203.0.113.7", "-j", "DROP"}, calls[0].args)
	assert.Equal(t, []string{"iptables", "-D", "INPUT", "-s", "203.0.113.7", "-j", "DROP"}, calls[1].args)
}

func TestIPTablesUsesIP6TablesForIPv6(t *testing.T) {
	var calls []recordedCmd
	fw := NewIPTables("", false, nil)
	fw.run = recorder(&calls, nil)

	require.NoError(t, fw.Block(context.Background(), "2001:db8::7"))
	require.NoError(t, fw.Unblock(context.Background(), "2001:DB8::7"))
	require.Len(t, calls, 2)
	assert.Equal(t, "ip6tables", calls[0].name)
	assert.Equal(t, []string{"-I", "INPUT", "-s", "2001:db8::7", "-j", "DROP"}, calls[0].args)
	assert.Equal(t, "ip6tables", calls[1].name)
	assert.Equal(t, []string{"-D", "INPUT", "-s", "2001:db8::7", "-j", "DROP"}, calls[1].args)

	sudo := NewIPTables("", true, nil)
	sudo.run = recorder(&calls, nil)
	require.NoError(t, sudo.Block(context.Background(), "2001:db8::8"))
	assert.Equal(t, "sudo", calls[2].name)
	assert.Equal(t, "ip6tables", calls[2].args[0])
}

func TestIPTablesFailureCarriesOutput(t *testing.T) {
	var calls []recordedCmd
	fw := NewIPTables("FORWARD", false, nil)
	fw.run = recorder(&calls, errors.New("exit status 4"))
	err := fw.Block(context.Background(), "198.51.100.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Equal(t, "iptables", calls[0].name)
	assert.Equal(t, "FORWARD", calls[0].args[1])
}

func TestInvalidIPIsPermanent(t *testing.T) {
	var calls []recordedCmd
	fw := NewIPTables("INPUT", false, nil)
	fw.run = recorder(&calls, nil)
	for _, bad := range []string{"", "10.0.0.0/8", "-F", "example.com"} {
		err := fw.Block(context.Background(), bad)
		require.Error(t, err, bad)
		assert.True(t, errors.Is(err, response.ErrInvalidTarget), bad)
	}
	assert.Empty(t, calls)
	assert.True(t, errors.Is(NewNoop(nil).Block(context.Background(), "nope"), response.ErrInvalidTarget))
}

func TestNetshRuleNames(t *testing.T) {
	var calls []recordedCmd
	fw := NewNetsh(nil)
	fw.run = recorder(&calls, nil)
	require.NoError(t, fw.Block(context.Background(), "192.0.2.8"))
	require.NoError(t, fw.Unblock(context.Background(), "192.0.2.8"))
	assert.Equal(t, "netsh", calls[0].name)
	assert.Contains(t, calls[0].args, "name=netwarden_block_192.0.2.8")
	assert.Contains(t, calls[0].args, "remoteip=192.0.2.8")
	assert.Equal(t, []string{"advfirewall", "firewall", "delete", "rule", "name=netwarden_block_192.0.2.8"}, calls[1].args)
}

func TestWebhookPostsText(t *testing.T) {
	var got envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhook(srv.URL, 0).Send(context.Background(), "brute force from AA:BB:CC:DD:EE:FF"))
	assert.Equal(t, "brute force from AA:BB:CC:DD:EE:FF", got.Text)
	assert.Equal(t, "netwarden", got.Source)
}

func TestWebhookNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	err := NewWebhook(srv.URL, 0).Send(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type fakeNATS struct {
	subject string
	data    []byte
	flushed bool
}

func (f *fakeNATS) Publish(subject string, data []byte) error {
	f.subject, f.data = subject, data
	return nil
}

func (f *fakeNATS) FlushWithContext(context.Context) error {
	f.flushed = true
	return nil
}

func TestNATSPublishesAndFlushes(t *testing.T) {
	conn := &fakeNATS{}
	require.NoError(t, NewNATS(conn, "netwarden.alerts").Send(context.Background(), "weak tls"))
	assert.Equal(t, "netwarden.alerts", conn.subject)
	assert.True(t, conn.flushed)
	assert.True(t, strings.Contains(string(conn.data), `"text":"weak tls"`))
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func TestKafkaWritesEnvelope(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, NewKafka(w).Send(context.Background(), "traffic spike"))
	require.Len(t, w.msgs, 1)
	var env envelope
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &env))
	assert.Equal(t, "traffic spike", env.Text)

	w.err = errors.New("leader not available")
	assert.Error(t, NewKafka(w).Send(context.Background(), "again"))
}

func TestMultiFailsWhenAnyFails(t *testing.T) {
	ok := &fakeWriter{}
	bad := &fakeWriter{err: errors.New("broker down")}
	m := Multi{NewKafka(ok), NewKafka(bad), NewLog(nil)}
	err := m.Send(context.Background(), "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, ok.msgs, 1)
	assert.NoError(t, Multi{}.Send(context.Background(), "msg"))
}

func TestBuilders(t *testing.T) {
	fw, err := NewFirewall(config.FirewallConfig{Driver: "iptables", Chain: "INPUT"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &IPTables{}, fw)
	_, err = NewFirewall(config.FirewallConfig{Driver: "pf"}, nil)
	assert.Error(t, err)

	n, closeFn, err := NewNotifier(config.NotifyConfig{Log: true}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Log{}, n)
	assert.NoError(t, closeFn())
}
