package features

import (
	"slices"
	"strings"

	"github.com/go-gota/gota/dataframe"

	"github.com/cvalentine99/nfa-intent/internal/dataset"
)

// FieldPrefixes lists the protocol field families kept by RowToTokens.
var FieldPrefixes = []string{"ip.", "tcp.", "udp.", "dns.", "http.", "tls.", "smb.", "modbus.", "dnp3."}

// RowToTokens renders a record as space-separated "[field=value]"
// tokens, keeping only fields whose lower-cased name starts with one of
// FieldPrefixes. A record without such fields yields "".
func RowToTokens(rec dataset.Record) string {
	var b strings.Builder
	for _, f := range rec {
		name := strings.ToLower(f.Name)
		if !hasFieldPrefix(name) {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte('[')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(f.Value)
		b.WriteByte(']')
	}
	return b.String()
}

// Corpus tokenizes every row of df after dropping the exclude columns.
func Corpus(df dataframe.DataFrame, exclude ...string) []string {
	var drop []string
	for _, name := range df.Names() {
		if slices.Contains(exclude, name) {
			drop = append(drop, name)
		}
	}
	if len(drop) == len(df.Names()) {
		return make([]string, df.Nrow())
	}
	if len(drop) > 0 {
		df = df.Drop(drop)
	}

	recs := dataset.Records(df)
	out := make([]string, len(recs))
	for i, rec := range recs {
		out[i] = RowToTokens(rec)
	}
	return out
}

func hasFieldPrefix(name string) bool {
	for _, p := range FieldPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
