package xmlschema

import (
	"bytes"
	"encoding/xml"
	"io"
	"sync"
)

// bufPool amortizes the allocation cost of repeatedly marshaling small
// XML documents across a run with many modules, the same buffered-read
// idea the pb protobuf readers use for repository metadata.
var bufPool = sync.Pool{New: func() interface{} { return new(bytes.Buffer) }}

func marshal(v interface{}) ([]byte, error) {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(buf)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func unmarshal(r io.Reader, v interface{}) error {
	return xml.NewDecoder(r).Decode(v)
}

// MarshalBuildInfo renders b as buildinfo.xml bytes.
func MarshalBuildInfo(b BuildInfo) ([]byte, error) { return marshal(b) }

// UnmarshalBuildInfo parses buildinfo.xml bytes read from r.
func UnmarshalBuildInfo(r io.Reader) (BuildInfo, error) {
	var b BuildInfo
	err := unmarshal(r, &b)
	return b, err
}

// MarshalCacheReport renders r as cache-report XML bytes.
func MarshalCacheReport(r CacheReport) ([]byte, error) { return marshal(r) }

// MarshalDiff renders d as diff XML bytes.
func MarshalDiff(d Diff) ([]byte, error) { return marshal(d) }
