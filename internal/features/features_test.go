package features

import (
	"math"
	"strings"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvalentine99/nfa-intent/internal/dataset"
)

func TestByteEntropy(t *testing.T) {
	assert.Equal(t, 0.0, ByteEntropy(nil))
	assert.Equal(t, 0.0, ByteEntropy([]byte{}))
	assert.Equal(t, 0.0, ByteEntropy([]byte("aaaaaaaa")))
	assert.InDelta(t, 1.0, ByteEntropy([]byte("abab")), 1e-12)

	uniform := make([]byte, 256*4)
	for i := range uniform {
		uniform[i] = byte(i)
	}
	assert.InDelta(t, 8.0, ByteEntropy(uniform), 1e-12)

	// entropy never exceeds 8 bits per byte
	assert.LessOrEqual(t, ByteEntropy([]byte("The quick brown fox")), 8.0)
}

func TestAddPayloadFeatures(t *testing.T) {
	df := dataframe.New(
		series.New([]string{"6161", "", "zz", "00ff"}, series.String, "payload"),
		series.New([]int{0, 1, 0, 1}, series.Int, "label"),
	)

	out := AddPayloadFeatures(df, "payload")
	assert.Equal(t, []string{"payload", "label", PayloadLenColumn, PayloadEntropyColumn}, out.Names())
	assert.Equal(t, []string{"payload", "label"}, df.Names(), "input frame is not modified")

	lens, err := out.Col(PayloadLenColumn).Int()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0, 0, 2}, lens)
	assert.Equal(t, []float64{0, 0, 0, 1}, out.Col(PayloadEntropyColumn).Float())
}

func TestAddPayloadFeaturesMissingColumn(t *testing.T) {
	df := dataframe.New(series.New([]int{5, 6}, series.Int, "bytes"))

	out := AddPayloadFeatures(df, "payload")
	assert.Equal(t, []float64{0, 0}, out.Col(PayloadLenColumn).Float())
	assert.Equal(t, []float64{0, 0}, out.Col(PayloadEntropyColumn).Float())
}

func TestRowToTokens(t *testing.T) {
	rec := dataset.Record{
		{Name: "frame.len", Value: "60"},
		{Name: "IP.Src", Value: "10.0.0.1"},
		{Name: "tcp.dstport", Value: "443"},
		{Name: "label", Value: "1"},
		{Name: "dns.qry.name", Value: "example.com"},
		{Name: "ipx", Value: "no"},
	}
	assert.Equal(t, "[ip.src=10.0.0.1] [tcp.dstport=443] [dns.qry.name=example.com]", RowToTokens(rec))
}

func TestRowToTokensOnlyAllowedFields(t *testing.T) {
	rec := dataset.Record{
		{Name: "http.host", Value: "a"},
		{Name: "smb.cmd", Value: "b"},
		{Name: "modbus.func_code", Value: "3"},
		{Name: "dnp3.ctl", Value: "c"},
		{Name: "udp.length", Value: "8"},
		{Name: "tls.sni", Value: "d"},
		{Name: "eth.src", Value: "x"},
		{Name: "src_ip", Value: "y"},
	}
	out := RowToTokens(rec)
	for _, tok := range strings.Fields(out) {
		name := strings.SplitN(strings.Trim(tok, "[]"), "=", 2)[0]
		assert.True(t, hasFieldPrefix(name), tok)
	}
	assert.NotContains(t, out, "eth.src")
	assert.NotContains(t, out, "src_ip")
	assert.Len(t, strings.Fields(out), 6)
}

func TestRowToTokensEmpty(t *testing.T) {
	assert.Equal(t, "", RowToTokens(nil))
	assert.Equal(t, "", RowToTokens(dataset.Record{{Name: "bytes", Value: "1"}}))
}

func TestCorpus(t *testing.T) {
	df := dataframe.New(
		series.New([]string{"10.0.0.1", "10.0.0.2"}, series.String, "ip.src"),
		series.New([]float64{0.5, 2}, series.Float, "tcp.time_delta"),
		series.New([]int{0, 1}, series.Int, "label"),
		series.New([]string{"x", "y"}, series.String, "label.note"),
	)

	corpus := Corpus(df, "label")
	assert.Equal(t, []string{
		"[ip.src=10.0.0.1] [tcp.time_delta=0.5]",
		"[ip.src=10.0.0.2] [tcp.time_delta=2]",
	}, corpus)

	assert.Equal(t, []string{"", ""}, Corpus(df.Select([]string{"label"}), "label"))
}

func testFrame() dataframe.DataFrame {
	return dataframe.New(
		series.New([]string{"tcp", "udp", "tcp", "icmp"}, series.String, "proto"),
		series.New([]float64{1, 2, 3, math.NaN()}, series.Float, "rate"),
		series.New([]int{5, 5, 5, 5}, series.Int, "ttl"),
		series.New([]bool{true, false, true, false}, series.Bool, "syn"),
		series.New([]int{0, 1, 0, 1}, series.Int, "label"),
	)
}

func TestDerivePreprocessorPartitionsColumns(t *testing.T) {
	p, names, cat, num := DerivePreprocessor(testFrame(), "label")

	assert.Equal(t, []string{"proto"}, cat)
	assert.Equal(t, []string{"rate", "ttl", "syn"}, num)
	assert.Equal(t, []string{"proto", "rate", "ttl", "syn"}, names)
	assert.Equal(t, cat, p.CatCols)

	all := map[string]int{}
	for _, c := range append(append([]string(nil), cat...), num...) {
		all[c]++
	}
	assert.Len(t, all, 4)
	for c, n := range all {
		assert.Equal(t, 1, n, c)
		assert.NotEqual(t, "label", c)
	}
}

func TestPreprocessorTransform(t *testing.T) {
	df := testFrame()
	p, _, _, _ := DerivePreprocessor(df, "label")

	_, err := p.Transform(df)
	require.ErrorIs(t, err, ErrNotFitted)

	x, err := p.FitTransform(df)
	require.NoError(t, err)
	require.ErrorIs(t, p.Fit(df), ErrAlreadyFitted)

	// icmp, tcp, udp + rate, ttl, syn
	rows, cols := x.Dims()
	assert.Equal(t, 4, rows)
	assert.Equal(t, 6, cols)
	assert.Equal(t, 6, p.OutputDim())

	assert.Equal(t, []float64{0, 1, 0}, x.RawRowView(0)[:3])
	assert.Equal(t, []float64{0, 0, 1}, x.RawRowView(1)[:3])
	assert.Equal(t, []float64{1, 0, 0}, x.RawRowView(3)[:3])

	// rate: mean 2, population std sqrt(2/3); NaN becomes 0
	std := math.Sqrt(2.0 / 3.0)
	assert.InDelta(t, -1/std, x.At(0, 3), 1e-12)
	assert.InDelta(t, 0, x.At(1, 3), 1e-12)
	assert.InDelta(t, 1/std, x.At(2, 3), 1e-12)
	assert.Equal(t, 0.0, x.At(3, 3))

	// constant column scales by 1
	for i := 0; i < 4; i++ {
		assert.Equal(t, 0.0, x.At(i, 4))
	}
	assert.InDelta(t, 1, x.At(0, 5), 1e-12)
	assert.InDelta(t, -1, x.At(1, 5), 1e-12)
}

func TestPreprocessorUnseenCategory(t *testing.T) {
	train := testFrame()
	p, _, _, _ := DerivePreprocessor(train, "label")
	require.NoError(t, p.Fit(train))

	other := dataframe.New(
		series.New([]string{"sctp"}, series.String, "proto"),
		series.New([]float64{2}, series.Float, "rate"),
		series.New([]int{5}, series.Int, "ttl"),
		series.New([]bool{true}, series.Bool, "syn"),
	)
	x, err := p.Transform(other)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, x.RawRowView(0)[:3])
}

func TestPreprocessorMissingColumn(t *testing.T) {
	train := testFrame()
	p, _, _, _ := DerivePreprocessor(train, "label")
	require.NoError(t, p.Fit(train))

	_, err := p.Transform(train.Drop("rate"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate")
}
