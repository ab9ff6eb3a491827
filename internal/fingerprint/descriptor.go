package fingerprint

import (
	"bytes"
	"encoding/xml"
	"sort"
)

// canonicalizeDescriptor re-serializes an effective module descriptor
// (already resolved and merged by the external config/POM loader, which
// is out of scope here), removing any element directly under
// <properties> whose tag name appears in exclude, and stripping comments
// and whitespace-only text so that two semantically identical documents
// produce byte-identical output regardless of the original formatting
// (I3: no incidental whitespace may leak into the fingerprint).
func canonicalizeDescriptor(raw []byte, exclude []string) ([]byte, error) {
	excluded := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		excluded[e] = true
	}

	dec := xml.NewDecoder(bytes.NewReader(raw))
	var out bytes.Buffer
	enc := xml.NewEncoder(&out)

	// depth tracks nesting; propertiesDepth is the depth at which a
	// <properties> element is open (0 meaning "not inside one").
	var (
		depth          int
		propertiesDepth int
		skipDepth      int // >0 while skipping an excluded property element
	)

	for {
		tok, err := dec.Token()
		if err != nil {
			break // io.EOF or malformed trailing content: stop canonicalizing
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if skipDepth > 0 {
				skipDepth++
				continue
			}
			if propertiesDepth != 0 && depth == propertiesDepth+1 && excluded[t.Name.Local] {
				skipDepth = 1
				depth-- // undo: this element never opens in the canonical output
				continue
			}
			sortAttrs(t.Attr)
			if err := enc.EncodeToken(t); err != nil {
				return nil, err
			}
			if t.Name.Local == "properties" && propertiesDepth == 0 {
				propertiesDepth = depth
			}
		case xml.EndElement:
			if skipDepth > 0 {
				skipDepth--
				if skipDepth == 0 {
					continue
				}
				depth--
				continue
			}
			if propertiesDepth != 0 && depth == propertiesDepth {
				propertiesDepth = 0
			}
			depth--
			if err := enc.EncodeToken(t); err != nil {
				return nil, err
			}
		case xml.CharData:
			if skipDepth > 0 {
				continue
			}
			if len(bytes.TrimSpace(t)) == 0 {
				continue // whitespace-only: drop for canonical form
			}
			if err := enc.EncodeToken(t.Copy()); err != nil {
				return nil, err
			}
		case xml.Comment:
			continue // comments never affect the fingerprint
		default:
			if skipDepth > 0 {
				continue
			}
			if err := enc.EncodeToken(xml.CopyToken(tok)); err != nil {
				return nil, err
			}
		}
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func sortAttrs(attrs []xml.Attr) {
	sort.Slice(attrs, func(i, j int) bool {
		if attrs[i].Name.Space != attrs[j].Name.Space {
			return attrs[i].Name.Space < attrs[j].Name.Space
		}
		return attrs[i].Name.Local < attrs[j].Name.Local
	})
}
