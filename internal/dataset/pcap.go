package dataset

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"

	"github.com/cvalentine99/nfa-intent/internal/logging"
	"github.com/cvalentine99/nfa-intent/internal/models"
)

// NoLabel tells LoadPCAP not to add a label column.
const NoLabel = -1

// pcapngMagic is the section header block type of a pcapng file.
const pcapngMagic = 0x0A0D0D0A

// Columns produced by LoadPCAP, named after the Wireshark display fields.
var pcapColumns = []string{
	"frame.time_epoch",
	"frame.len",
	"ip.version",
	"ip.src",
	"ip.dst",
	"ip.proto",
	"ip.ttl",
	"tcp.srcport",
	"tcp.dstport",
	"tcp.flags",
	"tcp.window_size",
	"udp.srcport",
	"udp.dstport",
	"dns.qry.name",
	"dns.qry.type",
	PayloadColumn,
}

var pcapTextColumns = map[string]series.Type{
	"ip.src":       series.String,
	"ip.dst":       series.String,
	"tcp.flags":    series.String,
	"dns.qry.name": series.String,
	"dns.qry.type": series.String,
	PayloadColumn:  series.String,
}

// packetSource is satisfied by both the pcap and pcapng readers.
type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Class folders of a labelled capture directory.
const (
	BenignDir    = "benign"
	MaliciousDir = "malicious"
)

// captureExts are the file extensions read from class folders.
var captureExts = []string{".pcap", ".pcapng", ".cap"}

// LoadPCAP decodes an offline capture (pcap or pcapng) into one row per
// packet. The transport payload is stored hex-encoded in the payload
// column. When label is 0 or 1 a constant label column is appended.
func LoadPCAP(path string, label int) (dataframe.DataFrame, error) {
	records := [][]string{pcapHeader(label != NoLabel)}
	records, err := appendCapture(records, path, label)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	if len(records) == 1 {
		return dataframe.DataFrame{}, fmt.Errorf("dataset: capture %s holds no packets", path)
	}
	return captureFrame(records)
}

// IsCaptureDir reports whether dir holds a benign or malicious class
// folder.
func IsCaptureDir(dir string) bool {
	for _, class := range []string{BenignDir, MaliciousDir} {
		if info, err := os.Stat(filepath.Join(dir, class)); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}

// LoadCaptureDir reads every capture under root/benign (label 0) and
// root/malicious (label 1) into a single labelled frame, benign first
// and files in name order within each class.
func LoadCaptureDir(root string) (dataframe.DataFrame, error) {
	records := [][]string{pcapHeader(true)}
	files := 0
	for label, class := range []string{BenignDir, MaliciousDir} {
		paths, err := captureFiles(filepath.Join(root, class))
		if err != nil {
			return dataframe.DataFrame{}, err
		}
		for _, path := range paths {
			if records, err = appendCapture(records, path, label); err != nil {
				return dataframe.DataFrame{}, err
			}
			files++
		}
	}
	if files == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("dataset: no captures under %s/{%s,%s}: %w", root, BenignDir, MaliciousDir, fs.ErrNotExist)
	}
	if len(records) == 1 {
		return dataframe.DataFrame{}, fmt.Errorf("dataset: captures under %s hold no packets", root)
	}
	return captureFrame(records)
}

// captureFiles lists the capture files directly inside dir. A missing
// dir holds none.
func captureFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dataset: list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && slices.Contains(captureExts, strings.ToLower(filepath.Ext(e.Name()))) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

func pcapHeader(labelled bool) []string {
	header := append([]string(nil), pcapColumns...)
	if labelled {
		header = append(header, "label")
	}
	return header
}

// appendCapture decodes the packets of path onto records.
func appendCapture(records [][]string, path string, label int) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()

	src, err := openPacketSource(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("dataset: read capture %s: %w", path, err)
	}

	dec := newPacketDecoder(src.LinkType())
	packets := 0
	for {
		data, ci, err := src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: read packet %d of %s: %w", packets+1, path, err)
		}
		if len(data) == 0 {
			continue
		}

		pkt := dec.decode(data, ci)
		row := packetRow(pkt)
		if label != NoLabel {
			row = append(row, strconv.Itoa(label))
		}
		records = append(records, row)
		packets++
	}

	logging.DatasetLogger().Info("read capture",
		logging.PathKey, path,
		"link_type", src.LinkType().String(),
		"packets", packets,
		"parse_errors", dec.parseErrors,
	)
	return records, nil
}

func captureFrame(records [][]string) (dataframe.DataFrame, error) {
	df := dataframe.LoadRecords(records,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(true),
		dataframe.WithTypes(pcapTextColumns),
	)
	if df.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("dataset: build capture frame: %w", df.Err)
	}
	logging.DatasetLogger().Debug("built capture frame", logging.Shape(df.Nrow(), df.Ncol()))
	return df, nil
}

func openPacketSource(r *bufio.Reader) (packetSource, error) {
	magic, err := r.Peek(4)
	if err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		return pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(r)
}

// packetDecoder decodes Ethernet or raw IP frames down to DNS.
type packetDecoder struct {
	linkType layers.LinkType

	eth     layers.Ethernet
	ip4     layers.IPv4
	ip6     layers.IPv6
	tcp     layers.TCP
	udp     layers.UDP
	dns     layers.DNS
	payload gopacket.Payload

	ethParser *gopacket.DecodingLayerParser
	ip4Parser *gopacket.DecodingLayerParser
	ip6Parser *gopacket.DecodingLayerParser
	decoded   []gopacket.LayerType

	parseErrors int
}

func newPacketDecoder(linkType layers.LinkType) *packetDecoder {
	d := &packetDecoder{linkType: linkType}
	decoders := []gopacket.DecodingLayer{&d.eth, &d.ip4, &d.ip6, &d.tcp, &d.udp, &d.dns, &d.payload}

	d.ethParser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, decoders...)
	d.ip4Parser = gopacket.NewDecodingLayerParser(layers.LayerTypeIPv4, decoders...)
	d.ip6Parser = gopacket.NewDecodingLayerParser(layers.LayerTypeIPv6, decoders...)
	for _, p := range []*gopacket.DecodingLayerParser{d.ethParser, d.ip4Parser, d.ip6Parser} {
		p.IgnoreUnsupported = true
	}
	d.decoded = make([]gopacket.LayerType, 0, 10)
	return d
}

func (d *packetDecoder) parserFor(data []byte) *gopacket.DecodingLayerParser {
	switch d.linkType {
	case layers.LinkTypeIPv4:
		return d.ip4Parser
	case layers.LinkTypeIPv6:
		return d.ip6Parser
	case layers.LinkTypeRaw:
		if data[0]>>4 == 6 {
			return d.ip6Parser
		}
		return d.ip4Parser
	default:
		return d.ethParser
	}
}

// decode extracts packet metadata from one frame.
func (d *packetDecoder) decode(data []byte, ci gopacket.CaptureInfo) *models.Packet {
	pkt := &models.Packet{
		Timestamp: ci.Timestamp,
		Length:    ci.Length,
	}
	if pkt.Length == 0 {
		pkt.Length = len(data)
	}

	if err := d.parserFor(data).DecodeLayers(data, &d.decoded); err != nil {
		d.parseErrors++
	}

	for _, layerType := range d.decoded {
		switch layerType {
		case layers.LayerTypeIPv4:
			pkt.SrcIP = d.ip4.SrcIP
			pkt.DstIP = d.ip4.DstIP
			pkt.IPProto = uint8(d.ip4.Protocol)
			pkt.TTL = d.ip4.TTL
			pkt.Protocol = d.ip4.Protocol.String()

		case layers.LayerTypeIPv6:
			pkt.SrcIP = d.ip6.SrcIP
			pkt.DstIP = d.ip6.DstIP
			pkt.IPProto = uint8(d.ip6.NextHeader)
			pkt.TTL = d.ip6.HopLimit
			pkt.IPv6 = true
			pkt.Protocol = d.ip6.NextHeader.String()

		case layers.LayerTypeTCP:
			pkt.SrcPort = uint16(d.tcp.SrcPort)
			pkt.DstPort = uint16(d.tcp.DstPort)
			pkt.TCPFlags = tcpFlags(&d.tcp)
			pkt.Window = d.tcp.Window
			pkt.Payload = d.tcp.LayerPayload()

		case layers.LayerTypeUDP:
			pkt.SrcPort = uint16(d.udp.SrcPort)
			pkt.DstPort = uint16(d.udp.DstPort)
			pkt.Payload = d.udp.LayerPayload()

		case layers.LayerTypeDNS:
			if len(d.dns.Questions) > 0 {
				q := d.dns.Questions[0]
				pkt.DNSQuery = string(q.Name)
				pkt.DNSQType = q.Type.String()
			}
		}
	}
	return pkt
}

// tcpFlags packs the TCP control bits into the low byte of the header
// flags field.
func tcpFlags(tcp *layers.TCP) uint8 {
	var flags uint8
	if tcp.FIN {
		flags |= 0x01
	}
	if tcp.SYN {
		flags |= 0x02
	}
	if tcp.RST {
		flags |= 0x04
	}
	if tcp.PSH {
		flags |= 0x08
	}
	if tcp.ACK {
		flags |= 0x10
	}
	if tcp.URG {
		flags |= 0x20
	}
	return flags
}

// packetRow renders a packet in pcapColumns order.
func packetRow(p *models.Packet) []string {
	row := make([]string, len(pcapColumns))
	for i := range row {
		row[i] = missingCell
	}
	set := func(i int, v string) { row[i] = v }

	set(0, strconv.FormatFloat(float64(p.Timestamp.UnixNano())/1e9, 'f', 6, 64))
	set(1, strconv.Itoa(p.Length))
	if p.SrcIP != nil {
		if p.IPv6 {
			set(2, "6")
		} else {
			set(2, "4")
		}
		set(3, p.SrcIP.String())
		set(4, p.DstIP.String())
		set(5, strconv.Itoa(int(p.IPProto)))
		set(6, strconv.Itoa(int(p.TTL)))
	}
	switch layers.IPProtocol(p.IPProto) {
	case layers.IPProtocolTCP:
		set(7, strconv.Itoa(int(p.SrcPort)))
		set(8, strconv.Itoa(int(p.DstPort)))
		set(9, "0x"+strconv.FormatUint(uint64(p.TCPFlags), 16))
		set(10, strconv.Itoa(int(p.Window)))
	case layers.IPProtocolUDP:
		set(11, strconv.Itoa(int(p.SrcPort)))
		set(12, strconv.Itoa(int(p.DstPort)))
	}
	if p.DNSQuery != "" {
		set(13, p.DNSQuery)
		set(14, p.DNSQType)
	}
	set(15, hex.EncodeToString(p.Payload))
	return row
}
