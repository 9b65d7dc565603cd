package cli

import (
	"bytes"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvalentine99/nfa-intent/internal/dataset"
	"github.com/cvalentine99/nfa-intent/internal/metrics"
	"github.com/cvalentine99/nfa-intent/internal/models"
)

func parse(t *testing.T, args ...string) *Options {
	t.Helper()
	var o Options
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	o.Register(set)
	require.NoError(t, set.Parse(args))
	return &o
}

// writeConfig writes a config whose staging and output roots live in dir.
func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	path := filepath.Join(dir, "run.yaml")
	body := fmt.Sprintf("paths:\n  staging: %s\n  out: %s\n%s",
		filepath.Join(dir, "staging"), filepath.Join(dir, "out"), extra)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestConfigFlagsOverride(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "seed: 7\nlogging:\n  level: error\n")

	o := parse(t, "-config", cfgPath, "-data", filepath.Join(dir, "flows"))
	cfg, err := o.Config()
	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, filepath.Join(dir, "flows"), cfg.Paths.Data)
	assert.Equal(t, "error", cfg.Logging.Level)

	for _, sub := range []string{"staging", "out"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		require.NoError(t, err, sub)
		assert.True(t, info.IsDir())
	}
}

func TestUsageDocumentsPathVariables(t *testing.T) {
	var o Options
	set := flag.NewFlagSet("baseline", flag.ContinueOnError)
	o.Register(set)
	var buf bytes.Buffer
	set.SetOutput(&buf)

	assert.ErrorIs(t, set.Parse([]string{"-h"}), flag.ErrHelp)
	assert.Contains(t, buf.String(), "Usage of baseline:")
	assert.Contains(t, buf.String(), "-metrics-textfile")
	assert.Contains(t, buf.String(), "NFA_OUT_DIR")
}

func TestInputPathFindsFirstCSV(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	require.NoError(t, os.Mkdir(data, 0755))
	for _, name := range []string{"b.csv", "a.csv"} {
		require.NoError(t, os.WriteFile(filepath.Join(data, name), []byte("x,label\n1,0\n"), 0644))
	}

	o := parse(t, "-config", writeConfig(t, dir, ""), "-data", data)
	cfg, err := o.Config()
	require.NoError(t, err)
	path, err := o.InputPath(cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(data, "a.csv"), path)

	df, loaded, err := o.Load(cfg)
	require.NoError(t, err)
	assert.Equal(t, path, loaded)
	assert.Equal(t, 1, df.Nrow())
}

func TestInputPathMissingData(t *testing.T) {
	dir := t.TempDir()
	o := parse(t, "-config", writeConfig(t, dir, ""), "-data", filepath.Join(dir, "data"))
	cfg, err := o.Config()
	require.NoError(t, err)
	_, err = o.InputPath(cfg)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func writeCapture(t *testing.T, path string, dstPort layers.UDPPort, n int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for i := 0; i < n; i++ {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
			SrcIP: net.IP{10, 0, 0, byte(i + 1)}, DstIP: net.IP{10, 0, 1, 1},
		}
		udp := &layers.UDP{SrcPort: layers.UDPPort(40000 + i), DstPort: dstPort}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload("x")))
		frame := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Unix(1700000000+int64(i), 0),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		require.NoError(t, w.WritePacket(ci, frame))
	}
}

func TestLoadLabelledCaptures(t *testing.T) {
	dir := t.TempDir()
	captures := filepath.Join(dir, "captures")
	for _, class := range []string{dataset.BenignDir, dataset.MaliciousDir} {
		require.NoError(t, os.MkdirAll(filepath.Join(captures, class), 0755))
	}
	writeCapture(t, filepath.Join(captures, dataset.BenignDir, "web.pcap"), 443, 3)
	writeCapture(t, filepath.Join(captures, dataset.MaliciousDir, "beacon.pcap"), 4444, 2)

	o := parse(t, "-config", writeConfig(t, dir, ""), "-input", captures)
	cfg, err := o.Config()
	require.NoError(t, err)
	df, input, err := o.Load(cfg)
	require.NoError(t, err)
	assert.Equal(t, captures, input)

	labels, err := dataset.Labels(df, cfg.TargetColumn)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 1, 1}, labels)
	assert.Equal(t, []string{"443", "443", "443", "4444", "4444"}, dataset.Column(df, "udp.dstport"))
}

func TestWriteMetrics(t *testing.T) {
	m := metrics.NewRunMetrics("baseline")
	m.SetRows(models.SplitTrain, 70)

	require.NoError(t, parse(t).WriteMetrics(m))

	path := filepath.Join(t.TempDir(), "nfa.prom")
	require.NoError(t, parse(t, "-metrics-textfile", path).WriteMetrics(m))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "nfa_pipeline_rows")
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, models.IntentReport{
		Val:  models.Scores{"F1": 0.5, "AP": 1},
		Test: models.Scores{"AP": 0.25, "F1": 0},
	}))
	assert.Equal(t, `{
  "test": {
    "AP": 0.25,
    "F1": 0
  },
  "val": {
    "AP": 1,
    "F1": 0.5
  }
}
`, buf.String())
}

func profiles(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "baseline-*.pprof"))
	require.NoError(t, err)
	return files
}

func TestStartProfile(t *testing.T) {
	o := parse(t)
	require.NoError(t, o.StartProfile("baseline"))
	o.Close()

	dir := filepath.Join(t.TempDir(), "prof")
	o = parse(t, "-profile-dir", dir)
	require.NoError(t, o.StartProfile("baseline"))
	o.Close()
	assert.Len(t, profiles(t, dir), 2)

	o.Close()
	assert.Len(t, profiles(t, dir), 2)
}

func TestFatalFlushesProfiles(t *testing.T) {
	var code int
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = os.Exit })

	dir := filepath.Join(t.TempDir(), "prof")
	o := parse(t, "-profile-dir", dir)
	require.NoError(t, o.StartProfile("baseline"))

	var order []string
	o.OnExit(func() { order = append(order, "trainer") })

	o.Fatal("baseline failed", fs.ErrNotExist)
	assert.Equal(t, 1, code)
	assert.Equal(t, []string{"trainer"}, order)
	assert.Len(t, profiles(t, dir), 2)
}
